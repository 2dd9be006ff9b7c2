package services

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindConflict
	KindOutOfWindow
	KindPaymentDeclined
	KindGateway
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindConflict:
		return "ConflictError"
	case KindOutOfWindow:
		return "OutOfWindowError"
	case KindPaymentDeclined:
		return "PaymentDeclined"
	case KindGateway:
		return "GatewayError"
	case KindNotFound:
		return "NotFoundError"
	}
	return "UnknownError"
}

// Error is the typed error every service returns for expected failures.
// Two Errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrOutOfWindow     = &Error{Kind: KindOutOfWindow}
	ErrPaymentDeclined = &Error{Kind: KindPaymentDeclined}
	ErrGateway         = &Error{Kind: KindGateway}
	ErrNotFound        = &Error{Kind: KindNotFound}

	ErrRunInProgress = errors.New("billing run already in progress")
)

const (
	MsgSlotUnavailable     = "slot no longer available"
	MsgOutsideSchedule     = "outside class schedule"
	MsgCancelledBooking    = "cannot mark attendance for a cancelled booking"
	MsgOutsideAvailability = "slot is outside the teacher's availability"
)

func NewValidationError(msg string) error { return &Error{Kind: KindValidation, Message: msg} }
func NewConflictError(msg string) error   { return &Error{Kind: KindConflict, Message: msg} }
func NewNotFoundError(msg string) error   { return &Error{Kind: KindNotFound, Message: msg} }

func NewOutOfWindowError(msg string) error { return &Error{Kind: KindOutOfWindow, Message: msg} }

func NewPaymentDeclined(reason string, err error) error {
	return &Error{Kind: KindPaymentDeclined, Message: reason, Err: err}
}

func NewGatewayError(err error) error {
	return &Error{Kind: KindGateway, Message: "payment gateway error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// notFoundOr maps gorm's record-not-found to a NotFoundError and wraps
// anything else as a storage failure.
func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(what + " not found")
	}
	return errors.Wrapf(err, "load %s", what)
}
