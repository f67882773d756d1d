package command

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-shop-cache/domain"
)

// CreateShopRequest registers a new shop.
type CreateShopRequest struct {
	ShopName       string               `json:"shopName" validate:"required,max=100"`
	Sales          domain.SalesInfo     `json:"sales"`
	Address        domain.Address       `json:"address"`
	ImageURLs      []string             `json:"imageUrls" validate:"omitempty,dive,url"`
	IsBranch       bool                 `json:"isBranch"`
	BranchName     string               `json:"branchName" validate:"required_if=IsBranch true,max=100"`
	Category       domain.Category      `json:"category" validate:"required,oneof=KOREAN CHINESE JAPANESE WESTERN CHICKEN PIZZA CAFE ETC"`
	DetailCategory string               `json:"detailCategory" validate:"max=50"`
	DeliveryTips   []domain.DeliveryTip `json:"deliveryTips" validate:"omitempty,dive"`
	BusinessNumber string               `json:"businessNumber" validate:"required,max=20"`
	Description    string               `json:"description" validate:"max=2000"`
}

// DeleteShopRequest soft deletes a shop.
type DeleteShopRequest struct {
	ShopID   string `json:"shopId" validate:"required"`
	ShopName string `json:"shopName" validate:"required"`
}

// CreateReviewRequest adds a review to a shop.
type CreateReviewRequest struct {
	ShopID      string   `json:"shopId" validate:"required"`
	ShopName    string   `json:"shopName" validate:"required"`
	ReviewTitle string   `json:"reviewTitle" validate:"required,max=100"`
	Content     string   `json:"content" validate:"required,max=2000"`
	Score       float64  `json:"score" validate:"gte=0,lte=5"`
	PhotoURLs   []string `json:"photoUrls" validate:"omitempty,dive,url"`
}

// DeleteReviewRequest soft deletes a review.
type DeleteReviewRequest struct {
	ReviewID    string `json:"reviewId" validate:"required"`
	ReviewTitle string `json:"reviewTitle" validate:"required"`
}

// CreateReplyRequest answers a review.
type CreateReplyRequest struct {
	ReviewID    string `json:"reviewId" validate:"required"`
	ReviewTitle string `json:"reviewTitle" validate:"required"`
	Content     string `json:"content" validate:"required,max=2000"`
}

// DeleteReplyRequest soft deletes a reply.
type DeleteReplyRequest struct {
	ReplyID string `json:"replyId" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates req and converts failures into a domain.KindValidation
// error keyed by JSON field path.
func check(op string, req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.Validation(op, map[string]string{"request": err.Error()})
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = fieldMessage(fe)
	}
	return domain.Validation(op, fields)
}

// fieldPath drops the struct name from the namespace: "CreateShopRequest.address.latitude"
// becomes "address.latitude".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}
