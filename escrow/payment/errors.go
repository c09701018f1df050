package payment

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable escrow error code.
type ErrorCode string

const (
	// ErrorTimeLimitAlreadyExpired indicates the operation needed the expiry to be in the future.
	ErrorTimeLimitAlreadyExpired ErrorCode = "0301"
	// ErrorTimeLimitNotExpired indicates withdraw was attempted before the expiry.
	ErrorTimeLimitNotExpired ErrorCode = "0302"
	// ErrorInvalidAmount indicates a rejected escrow amount.
	ErrorInvalidAmount ErrorCode = "0303"
	// ErrorInvalidNewExpiry indicates extend was given an expiry not after the current one.
	ErrorInvalidNewExpiry ErrorCode = "0304"
	// ErrorInvalidSystem indicates a null arbiter identity.
	ErrorInvalidSystem ErrorCode = "0305"
	// ErrorUnauthorized indicates the caller does not hold the required role.
	ErrorUnauthorized ErrorCode = "0310"
	// ErrorInvalidStatus indicates the payment is not in a status accepting the operation.
	ErrorInvalidStatus ErrorCode = "0311"
	// ErrorBindingMismatch indicates stored or supplied linkage does not match its derivation.
	ErrorBindingMismatch ErrorCode = "0312"
	// ErrorManagerAlreadyExists indicates a second initialize of the same manager.
	ErrorManagerAlreadyExists ErrorCode = "0320"
	// ErrorManagerNotFound indicates an unknown manager address.
	ErrorManagerNotFound ErrorCode = "0321"
	// ErrorPaymentNotFound indicates an unknown (manager, id) pair.
	ErrorPaymentNotFound ErrorCode = "0322"
	// ErrorInvalidInput indicates a malformed request.
	ErrorInvalidInput ErrorCode = "0330"
)

// DomainError is a structured escrow validation error. Two DomainErrors match
// under errors.Is when their codes are equal.
type DomainError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Sentinels for errors.Is.
var (
	ErrTimeLimitAlreadyExpired = DomainError{Code: ErrorTimeLimitAlreadyExpired, Message: "Time limit is already expired"}
	ErrTimeLimitNotExpired     = DomainError{Code: ErrorTimeLimitNotExpired, Message: "Time limit is not expired yet"}
	ErrInvalidAmount           = DomainError{Code: ErrorInvalidAmount, Message: "Invalid amount"}
	ErrInvalidNewExpiry        = DomainError{Code: ErrorInvalidNewExpiry, Message: "Invalid new expiry time"}
	ErrInvalidSystem           = DomainError{Code: ErrorInvalidSystem, Message: "Invalid system address"}
	ErrUnauthorized            = DomainError{Code: ErrorUnauthorized, Message: "caller is not authorized"}
	ErrInvalidStatus           = DomainError{Code: ErrorInvalidStatus, Message: "payment is not active"}
	ErrBindingMismatch         = DomainError{Code: ErrorBindingMismatch, Message: "account binding mismatch"}
	ErrManagerAlreadyExists    = DomainError{Code: ErrorManagerAlreadyExists, Message: "manager already initialized"}
	ErrManagerNotFound         = DomainError{Code: ErrorManagerNotFound, Message: "manager not found"}
	ErrPaymentNotFound         = DomainError{Code: ErrorPaymentNotFound, Message: "payment not found"}
	ErrInvalidInput            = DomainError{Code: ErrorInvalidInput, Message: "invalid input"}
)

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// Is matches any DomainError with the same code.
func (e DomainError) Is(target error) bool {
	var other DomainError
	if !errors.As(target, &other) {
		return false
	}

	return other.Code == e.Code
}

// IsConstraintViolation reports binding, role and status failures.
func (e DomainError) IsConstraintViolation() bool {
	switch e.Code {
	case ErrorUnauthorized, ErrorInvalidStatus, ErrorBindingMismatch:
		return true
	default:
		return false
	}
}

// NewDomainError creates a domain error with code, field, and message.
func NewDomainError(code ErrorCode, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// at returns a copy of e scoped to field.
func (e DomainError) at(field string) DomainError {
	e.Field = field
	return e
}

// withDetail returns a copy of e scoped to field with detail appended to the message.
func (e DomainError) withDetail(field, detail string) DomainError {
	e.Field = field
	e.Message = e.Message + ": " + detail

	return e
}

// IsConstraintViolation reports whether err carries a binding, role or status failure.
func IsConstraintViolation(err error) bool {
	var domainErr DomainError

	return errors.As(err, &domainErr) && domainErr.IsConstraintViolation()
}

// Response is the caller-facing rendition of a business error.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (r Response) Error() string {
	return r.Message
}

// Unwrap returns the underlying domain error.
func (r Response) Unwrap() error {
	return r.Err
}

var businessTitles = map[ErrorCode]struct{ title, message string }{
	ErrorTimeLimitAlreadyExpired: {"Time Limit Expired", "The payment expiry has already passed. Extend the payment or withdraw it instead."},
	ErrorTimeLimitNotExpired:     {"Time Limit Not Expired", "The payment cannot be withdrawn before its expiry. Wait for the expiry and try again."},
	ErrorInvalidAmount:           {"Invalid Amount", "The escrow amount must be greater than zero."},
	ErrorInvalidNewExpiry:        {"Invalid New Expiry", "The new expiry must be strictly after the current expiry."},
	ErrorInvalidSystem:           {"Invalid System Address", "The system arbiter address cannot be empty."},
	ErrorUnauthorized:            {"Unauthorized Caller", "The caller does not hold the role required for this operation."},
	ErrorInvalidStatus:           {"Invalid Payment Status", "The payment has already been settled and accepts no further transitions."},
	ErrorBindingMismatch:         {"Account Binding Mismatch", "The accounts supplied do not match the payment record. Verify the parties and asset and try again."},
	ErrorManagerAlreadyExists:    {"Manager Already Exists", "A payment manager is already initialized at this address."},
	ErrorManagerNotFound:         {"Manager Not Found", "No payment manager is initialized at this address."},
	ErrorPaymentNotFound:         {"Payment Not Found", "The referenced payment does not exist."},
	ErrorInvalidInput:            {"Invalid Input", "The request is malformed. Check the fields and try again."},
}

// BusinessResponse maps a DomainError to a Response for entityType. Errors
// that are not DomainErrors are returned unchanged.
func BusinessResponse(err error, entityType string) error {
	var domainErr DomainError
	if !errors.As(err, &domainErr) {
		return err
	}

	entry, ok := businessTitles[domainErr.Code]
	if !ok {
		return err
	}

	return Response{
		EntityType: entityType,
		Code:       string(domainErr.Code),
		Title:      entry.title,
		Message:    entry.message,
		Err:        err,
	}
}
