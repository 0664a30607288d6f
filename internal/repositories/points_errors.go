package repositories

import "fmt"

// PointsErrorCode enumerates repository error causes for loyalty point operations.
type PointsErrorCode string

const (
	// PointsErrorUnknown represents an unspecified failure.
	PointsErrorUnknown PointsErrorCode = "points_unknown"
	// PointsErrorLockHeld indicates another redemption holds the mutex.
	PointsErrorLockHeld PointsErrorCode = "points_lock_held"
	// PointsErrorAlreadyRedeemed indicates a redeem entry already exists for the (user, order) pair.
	PointsErrorAlreadyRedeemed PointsErrorCode = "points_already_redeemed"
	// PointsErrorInsufficientBalance indicates the debit exceeds the current balance.
	PointsErrorInsufficientBalance PointsErrorCode = "points_insufficient_balance"
	// PointsErrorUserNotFound indicates the shopper record is missing.
	PointsErrorUserNotFound PointsErrorCode = "points_user_not_found"
	// PointsErrorInvalidInput indicates the request parameters are malformed.
	PointsErrorInvalidInput PointsErrorCode = "points_invalid_input"
)

// PointsError wraps loyalty point failures with machine readable codes.
type PointsError struct {
	Op      string
	Code    PointsErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PointsError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *PointsError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements the RepositoryError categorisation.
func (e *PointsError) IsNotFound() bool {
	return e != nil && e.Code == PointsErrorUserNotFound
}

// IsConflict implements the RepositoryError categorisation.
func (e *PointsError) IsConflict() bool {
	return e != nil && (e.Code == PointsErrorLockHeld || e.Code == PointsErrorAlreadyRedeemed)
}

// IsUnavailable implements the RepositoryError categorisation.
func (e *PointsError) IsUnavailable() bool {
	return e != nil && e.Code == PointsErrorUnknown
}

// NewPointsError constructs a typed points error.
func NewPointsError(code PointsErrorCode, message string, err error) *PointsError {
	if message == "" {
		message = string(code)
	}
	return &PointsError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
