package constant

// Distributed lock key prefixes.
const (
	// LockPrefixManager guards manager mutations and payment creation.
	LockPrefixManager = "lock:escrow:manager:"
	// LockPrefixPayment guards transitions of one payment.
	LockPrefixPayment = "lock:escrow:payment:"
)

// Context header used to carry the correlation id.
const HeaderID = "X-Request-Id"
