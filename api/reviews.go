package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-shop-cache/command"
	"github.com/goliatone/go-shop-cache/domain"
)

func (h *Handler) reviewDetail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		review, err := h.reviews.ReadOne(r.Context(), domain.Ref{
			ID:        chi.URLParam(r, "id"),
			Secondary: strings.TrimSpace(r.URL.Query().Get("reviewTitle")),
		})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, review)
	}
}

func (h *Handler) reviewList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID := strings.TrimSpace(r.URL.Query().Get("shopId"))
		if shopID == "" {
			writeError(w, h.logger, domain.Validation("api.reviewList", map[string]string{"shopId": "is required"}))
			return
		}
		streamJSON(w, r, h.logger, h.reviews.ListByParent(r.Context(), shopID))
	}
}

func (h *Handler) reviewCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req command.CreateReviewRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		review, err := h.commands.CreateReview(r.Context(), req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, review)
	}
}

func (h *Handler) reviewDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.commands.DeleteReview(r.Context(), command.DeleteReviewRequest{
			ReviewID:    chi.URLParam(r, "id"),
			ReviewTitle: r.URL.Query().Get("reviewTitle"),
		})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) replyCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req command.CreateReplyRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		reply, err := h.commands.CreateReply(r.Context(), req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, reply)
	}
}

func (h *Handler) replyDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.commands.DeleteReply(r.Context(), command.DeleteReplyRequest{ReplyID: chi.URLParam(r, "id")})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
