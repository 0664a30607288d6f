package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for inventory operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorNotFound indicates the SKU does not have a stock record.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorInvalidInput indicates the request parameters are malformed.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
)

// StockError wraps inventory failures with machine readable codes.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements the RepositoryError categorisation.
func (e *StockError) IsNotFound() bool {
	return e != nil && e.Code == StockErrorNotFound
}

// IsConflict implements the RepositoryError categorisation.
func (e *StockError) IsConflict() bool { return false }

// IsUnavailable implements the RepositoryError categorisation.
func (e *StockError) IsUnavailable() bool {
	return e != nil && e.Code == StockErrorUnknown
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
