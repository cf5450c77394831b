package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidLength        ErrorCode = 103
	ErrCodeInvalidInterval      ErrorCode = 104

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound ErrorCode = 200
	ErrCodeQueryFailed  ErrorCode = 201
	ErrCodeStoreFailed  ErrorCode = 202

	// Indicator errors (300-399)
	ErrCodeInsufficientHistory ErrorCode = 300

	// Strategy errors (400-499)
	ErrCodeStrategyAborted ErrorCode = 400

	// Trading errors (500-599)
	ErrCodeOrderRefused  ErrorCode = 500
	ErrCodeOrderNotFound ErrorCode = 501
	ErrCodeOrderNotOpen  ErrorCode = 502
	ErrCodeStaleCache    ErrorCode = 503
	ErrCodeInvalidTrade  ErrorCode = 504

	// Backtest errors (600-699)
	ErrCodeBacktestConfigError ErrorCode = 600
	ErrCodeBacktestNoCandles   ErrorCode = 601
)
