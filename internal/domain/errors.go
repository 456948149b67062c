package domain

import "errors"

var (
	// ErrInsufficientData is returned when a window or series is too short for a requested statistic.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateStatistic marks a statistic that cannot be computed, e.g. a zero rolling deviation.
	ErrDegenerateStatistic = errors.New("degenerate statistic")
	// ErrMalformedTimestamp is returned for unparsable candle or claim timestamps.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	// ErrInvalidTransition is returned when a status change violates the verification state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidSeries is returned when candles break ordering or value invariants.
	ErrInvalidSeries = errors.New("invalid price series")
	// ErrReferenceMismatch is returned when a window's reference index does not match the claimed time.
	ErrReferenceMismatch = errors.New("reference index does not match claimed time")
)
