package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Principal errors
	CodeUnknownPrincipal Code = "UNKNOWN_PRINCIPAL"

	// Ceremony errors
	CodeChallengeExpiredOrMissing Code = "CHALLENGE_EXPIRED_OR_MISSING"
	CodeVerificationFailed        Code = "VERIFICATION_FAILED"

	// Infrastructure errors
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeCryptoFailure  Code = "CRYPTO_FAILURE"
)
