package events

import (
	"time"

	"github.com/goliatone/go-shop-cache/domain"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type names a domain event.
type Type string

const (
	ShopCreated   Type = "ShopCreated"
	ShopDeleted   Type = "ShopDeleted"
	ReviewCreated Type = "ReviewCreated"
	ReviewDeleted Type = "ReviewDeleted"
	ReplyCreated  Type = "ReplyCreated"
	ReplyDeleted  Type = "ReplyDeleted"
)

// Envelope is the unit carried by the bus. Key is the partition key; every
// event about a shop or its children is keyed by the shop id so a partition
// preserves per-shop ordering.
type Envelope struct {
	EventID    string              `json:"eventId"`
	Type       Type                `json:"type"`
	Key        string              `json:"key"`
	OccurredAt time.Time           `json:"occurredAt"`
	Payload    jsoniter.RawMessage `json:"payload"`
}

// ShopChanged is the payload of ShopCreated and ShopDeleted.
type ShopChanged struct {
	ShopID   string `json:"shopId"`
	ShopName string `json:"shopName"`
}

// ReviewChanged is the payload of ReviewCreated and ReviewDeleted. It carries
// identity plus the score delta only.
type ReviewChanged struct {
	ShopID      string  `json:"shopId"`
	ShopName    string  `json:"shopName"`
	ReviewID    string  `json:"reviewId"`
	ReviewTitle string  `json:"reviewTitle"`
	Score       float64 `json:"score"`
}

// ReplyChanged is the payload of ReplyCreated and ReplyDeleted.
type ReplyChanged struct {
	ReplyID     string `json:"replyId"`
	ReviewID    string `json:"reviewId"`
	ReviewTitle string `json:"reviewTitle"`
	ShopID      string `json:"shopId"`
}

// NewEnvelope encodes payload into a fresh envelope with a random event id.
func NewEnvelope(t Type, key string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    uuid.NewString(),
		Type:       t,
		Key:        key,
		OccurredAt: now.UTC(),
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload into v. A malformed payload is a
// KindValidation error and is never retried.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return domain.Malformed("events.Decode", string(e.Type), e.EventID, err)
	}
	return nil
}

// Marshal encodes the whole envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, domain.Malformed("events.Unmarshal", "", "", err)
	}
	if env.EventID == "" || env.Type == "" {
		return Envelope{}, domain.Validation("events.Unmarshal", map[string]string{"envelope": "eventId and type are required"})
	}
	return env, nil
}

// Topics maps event types to bus topics.
type Topics struct {
	ShopCreate   string `mapstructure:"shop_create" validate:"required"`
	ShopDelete   string `mapstructure:"shop_delete" validate:"required"`
	ReviewCreate string `mapstructure:"review_create" validate:"required"`
	ReviewDelete string `mapstructure:"review_delete" validate:"required"`
	ReplyCreate  string `mapstructure:"reply_create" validate:"required"`
	ReplyDelete  string `mapstructure:"reply_delete" validate:"required"`
}

// DefaultTopics returns the production topic names.
func DefaultTopics() Topics {
	return Topics{
		ShopCreate:   "shop-create",
		ShopDelete:   "shop-delete",
		ReviewCreate: "review-create",
		ReviewDelete: "review-delete",
		ReplyCreate:  "reply-create",
		ReplyDelete:  "reply-delete",
	}
}

// For returns the topic of t, or "" for an unknown type.
func (t Topics) For(typ Type) string {
	switch typ {
	case ShopCreated:
		return t.ShopCreate
	case ShopDeleted:
		return t.ShopDelete
	case ReviewCreated:
		return t.ReviewCreate
	case ReviewDeleted:
		return t.ReviewDelete
	case ReplyCreated:
		return t.ReplyCreate
	case ReplyDeleted:
		return t.ReplyDelete
	default:
		return ""
	}
}

// All returns every topic, in a stable order.
func (t Topics) All() []string {
	return []string{t.ShopCreate, t.ShopDelete, t.ReviewCreate, t.ReviewDelete, t.ReplyCreate, t.ReplyDelete}
}
