package graph

import "errors"

// ErrMaxStepsExceeded indicates that the run reached the maximum allowed
// step count without reaching a terminal.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// EngineError reports misconfiguration or an engine-level runtime failure.
// Code is a SCREAMING_CASE identifier such as NODE_NOT_FOUND or NO_ROUTE.
type EngineError struct {
	Message string
	Code    string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
