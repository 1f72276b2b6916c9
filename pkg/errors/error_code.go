package errors

// ErrorCode is a stable, user-visible code identifying a failure class.
// Downstream consumers match on these codes, so they never change once
// released.
type ErrorCode string

const (
	// ErrCodeUnknown is returned by GetCode for errors that did not
	// originate from this package.
	ErrCodeUnknown ErrorCode = "UNKNOWN"

	// ErrCodeConfig covers malformed, unknown, or contradictory
	// configuration; raised before any I/O happens.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeMissingColumn is raised when a required input column
	// (timestamp, bid, ask) is absent from the raw tick file.
	ErrCodeMissingColumn ErrorCode = "MISSING_COLUMN"

	// ErrCodeTimezone is raised when a timestamp cannot be parsed or
	// resolved to UTC.
	ErrCodeTimezone ErrorCode = "TIMEZONE_ERROR"

	// ErrCodeNegativeSpread is raised when a row has ask < bid and the
	// configured policy is abort.
	ErrCodeNegativeSpread ErrorCode = "NEGATIVE_SPREAD"

	// ErrCodeUnsortedInput is raised when strict_sorted_input is set and
	// the raw rows required reordering.
	ErrCodeUnsortedInput ErrorCode = "UNSORTED_INPUT"

	// ErrCodeGapExcess is raised when the flagged gap proportion exceeds
	// the configured fatal ratio.
	ErrCodeGapExcess ErrorCode = "GAP_EXCESS"

	// ErrCodeBarSpecInvalid is raised for a non-positive or unrecognized
	// bar frame unit or count.
	ErrCodeBarSpecInvalid ErrorCode = "BAR_SPEC_INVALID"

	// ErrCodeIO covers filesystem and database failures.
	ErrCodeIO ErrorCode = "IO_ERROR"
)
