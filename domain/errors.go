package domain

import (
	"errors"
	"fmt"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

// Kind classifies failures so callers can react without string matching.
// Every kind is backed by a go-errors category.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindNotFound: the aggregate is absent from both cache and store.
	KindNotFound
	// KindValidation: a malformed request rejected before any store call.
	KindValidation
	// KindConsistencyFault: data that contradicts an invariant. Never auto corrected.
	KindConsistencyFault
	// KindDownstreamUnavailable: a store, cache, search or bus call failed.
	KindDownstreamUnavailable
)

// CategoryConsistencyFault extends the conflict category for invariant
// violations found while applying events.
var CategoryConsistencyFault = goerrors.CategoryConflict.Extend("consistency")

var kindCategories = []struct {
	kind     Kind
	category goerrors.Category
	textCode string
}{
	{KindNotFound, goerrors.CategoryNotFound, "NOT_FOUND"},
	{KindValidation, goerrors.CategoryValidation, "VALIDATION_FAILED"},
	{KindConsistencyFault, CategoryConsistencyFault, "CONSISTENCY_FAULT"},
	{KindDownstreamUnavailable, goerrors.CategoryExternal, "DOWNSTREAM_UNAVAILABLE"},
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "ValidationFailure"
	case KindConsistencyFault:
		return "ConsistencyFault"
	case KindDownstreamUnavailable:
		return "DownstreamUnavailable"
	default:
		return "Unknown"
	}
}

// Category returns the go-errors category backing k.
func (k Kind) Category() goerrors.Category {
	for _, kc := range kindCategories {
		if kc.kind == k {
			return kc.category
		}
	}
	return goerrors.CategoryInternal
}

func (k Kind) textCode() string {
	for _, kc := range kindCategories {
		if kc.kind == k {
			return kc.textCode
		}
	}
	return "INTERNAL"
}

var (
	ErrNegativeReviewCount = errors.New("review count would become negative")
	ErrReviewDeleted       = errors.New("review is deleted")
	ErrOrphanReply         = errors.New("reply references a missing review")
	ErrOrphanReview        = errors.New("review references a missing shop")
	ErrMissingAggregate    = errors.New("event references a missing aggregate")
)

// Error is the error type returned across package boundaries.
type Error = goerrors.Error

func newError(k Kind, op, entity, id, message string, source error) *Error {
	var e *Error
	if source != nil {
		e = goerrors.Wrap(source, k.Category(), message)
		// Wrap keeps the category of a wrapped *Error; the kind asked for wins.
		e.Category = k.Category()
	} else {
		e = goerrors.New(message, k.Category())
	}
	e.WithTextCode(k.textCode())

	meta := map[string]any{"op": op}
	if entity != "" {
		meta["entity"] = entity
	}
	if id != "" {
		meta["id"] = id
	}
	return e.WithMetadata(meta)
}

func describe(op, entity, id string) string {
	switch {
	case entity != "" && id != "":
		return fmt.Sprintf("%s [%s %s]", op, entity, id)
	case entity != "":
		return fmt.Sprintf("%s [%s]", op, entity)
	default:
		return op
	}
}

// NotFound builds a KindNotFound error.
func NotFound(op, entity, id string) *Error {
	return newError(KindNotFound, op, entity, id, describe(op, entity, id)+": not found", nil)
}

// Validation builds a KindValidation error with per-field messages.
func Validation(op string, fields map[string]string) *Error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fieldErrors := make([]goerrors.FieldError, 0, len(names))
	for _, name := range names {
		fieldErrors = append(fieldErrors, goerrors.FieldError{Field: name, Message: fields[name]})
	}
	e := goerrors.NewValidation(op+": invalid input", fieldErrors...)
	e.WithTextCode(KindValidation.textCode())
	return e.WithMetadata(map[string]any{"op": op})
}

// Malformed wraps a decoding failure as a KindValidation error.
func Malformed(op, entity, id string, err error) *Error {
	return newError(KindValidation, op, entity, id, describe(op, entity, id)+": malformed input", err)
}

// ConsistencyFault builds a KindConsistencyFault error.
func ConsistencyFault(op, entity, id string, err error) *Error {
	return newError(KindConsistencyFault, op, entity, id, describe(op, entity, id)+": consistency fault", err)
}

// Unavailable wraps a failed downstream call. Errors that already carry a
// kind are returned unchanged so NotFound from a store is not masked.
func Unavailable(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return newError(KindDownstreamUnavailable, op, entity, "", describe(op, entity, "")+": unavailable", err)
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, kc := range kindCategories {
		if goerrors.IsCategory(err, kc.category) {
			return kc.kind
		}
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsNotFound is shorthand for IsKind(err, KindNotFound).
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// FieldsOf returns the per-field messages of a validation error, or nil.
func FieldsOf(err error) map[string]string {
	var e *Error
	if !errors.As(err, &e) || len(e.ValidationErrors) == 0 {
		return nil
	}
	fields := make(map[string]string, len(e.ValidationErrors))
	for _, fe := range e.ValidationErrors {
		fields[fe.Field] = fe.Message
	}
	return fields
}
