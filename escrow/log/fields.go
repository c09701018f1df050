package log

import (
	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/google/uuid"
)

// Field keys shared by the engine, the stores and the relay, so one query
// finds every event of a payment regardless of which package logged it.
const (
	KeyError         = "error"
	KeyErrorDetail   = "error_detail"
	KeyErrorCode     = "error_code"
	KeyOperation     = "operation"
	KeyManager       = "manager"
	KeyPaymentID     = "payment_id"
	KeyCorrelationID = "correlation_id"
	KeyEventID       = "event_id"
	KeyEventType     = "event_type"
	KeyLockKey       = "lock_key"
)

// Address logs a custody address in its hex form.
func Address(key string, address custody.Address) Field {
	return Field{Key: key, Value: address.String()}
}

// Manager logs the payment manager address.
func Manager(address custody.Address) Field {
	return Address(KeyManager, address)
}

// PaymentID logs a payment slot id within its manager.
func PaymentID(id uint64) Field {
	return Field{Key: KeyPaymentID, Value: id}
}

func Operation(op string) Field {
	return Field{Key: KeyOperation, Value: op}
}

// CorrelationID logs the request correlation id. Empty ids are kept so a
// missing value is visible.
func CorrelationID(id string) Field {
	return Field{Key: KeyCorrelationID, Value: id}
}

// ErrorCode logs the stable code of a rejected call.
func ErrorCode(code string) Field {
	return Field{Key: KeyErrorCode, Value: code}
}

// ErrorDetail logs an already sanitized error message. Credentials must be
// stripped by the caller.
func ErrorDetail(detail string) Field {
	return Field{Key: KeyErrorDetail, Value: detail}
}

// Event logs an outbox event identity.
func Event(id uuid.UUID, eventType string) []Field {
	return []Field{
		{Key: KeyEventID, Value: id.String()},
		{Key: KeyEventType, Value: eventType},
	}
}

// LockKey logs a lock key. Pass keys through the lock manager's redaction
// first.
func LockKey(key string) Field {
	return Field{Key: KeyLockKey, Value: key}
}
