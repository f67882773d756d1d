package api

import (
	"errors"
	"io"
	"iter"
	"net/http"

	"github.com/goliatone/go-shop-cache/domain"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConsistencyFault:
		return http.StatusConflict
	case domain.KindDownstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: domain.KindOf(err).String(), Message: err.Error()}

	var derr *domain.Error
	if errors.As(err, &derr) {
		resp.Code = derr.TextCode
	}
	resp.Fields = domain.FieldsOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		resp.Message = http.StatusText(status)
	}
	writeJSON(w, logger, status, resp)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encoding failed", zap.Error(err))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Validation("api.decode", map[string]string{"body": "is required"})
		}
		return domain.Validation("api.decode", map[string]string{"body": err.Error()})
	}
	return nil
}

// streamJSON writes seq as a JSON array element by element. Elements that
// vanished between listing and resolution are skipped, and an element that
// fails to resolve is logged and left out. The response is an error only
// when no element could be written and at least one failed.
func streamJSON[T any](w http.ResponseWriter, r *http.Request, logger *zap.Logger, seq iter.Seq2[T, error]) {
	ctx := r.Context()
	started := false
	failed := 0
	var firstErr error
	stream := jsoniter.NewStream(json, w, 4096)

	for item, err := range seq {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if domain.IsNotFound(err) {
				continue
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn("list element skipped", zap.Error(err))
			continue
		}
		if !started {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			stream.WriteArrayStart()
			started = true
		} else {
			stream.WriteMore()
		}
		stream.WriteVal(item)
		if stream.Buffered() > 2048 {
			if err := stream.Flush(); err != nil {
				logger.Warn("list stream write failed", zap.Error(err))
				return
			}
		}
	}

	if !started && firstErr != nil {
		writeError(w, logger, firstErr)
		return
	}
	if failed > 0 {
		logger.Error("list served with missing elements", zap.Int("failed", failed), zap.Error(firstErr))
	}

	if !started {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		stream.WriteEmptyArray()
	} else {
		stream.WriteArrayEnd()
	}
	if err := stream.Flush(); err != nil {
		logger.Warn("list stream write failed", zap.Error(err))
	}
}
