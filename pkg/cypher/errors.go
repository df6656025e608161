package cypher

import (
	"errors"
	"fmt"
)

// Stage names the pipeline phase a query error originated in.
type Stage string

const (
	StageParse   Stage = "parse"
	StageCompile Stage = "compile"
	StageExecute Stage = "execute"
)

// ErrQuery is the base kind for all pipeline failures.
var ErrQuery = errors.New("query error")

// ErrReservedParameter rejects parameter names beginning with "_".
var ErrReservedParameter = errors.New("reserved parameter name")

// QueryError carries the failing stage alongside the message. It is stored
// in the Result summary rather than thrown across the driver boundary.
type QueryError struct {
	Stage Stage
	Msg   string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Stage, e.Msg)
}

func (e *QueryError) Unwrap() error {
	return ErrQuery
}

func parseErrorf(format string, args ...any) *QueryError {
	return &QueryError{Stage: StageParse, Msg: fmt.Sprintf(format, args...)}
}

func compileErrorf(format string, args ...any) *QueryError {
	return &QueryError{Stage: StageCompile, Msg: fmt.Sprintf(format, args...)}
}

func execErrorf(format string, args ...any) *QueryError {
	return &QueryError{Stage: StageExecute, Msg: fmt.Sprintf(format, args...)}
}
