package screening

import (
	"fmt"
	"strings"
)

// ConnectionError reports an unreachable external system (database, search,
// model, or spreadsheet API).
type ConnectionError struct {
	System string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "connection error"
	}
	return fmt.Sprintf("connection error: system=%s cause=%v", strings.TrimSpace(e.System), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// QueryError reports a malformed filter, identifier, or rejected read.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	if e == nil {
		return "query error"
	}
	return fmt.Sprintf("query error: op=%s cause=%v", strings.TrimSpace(e.Op), e.Err)
}

func (e *QueryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ParseError reports a model response that does not match the expected verdict
// format: malformed JSON, a missing or unrecognized verdict token, unknown flag
// codes, or a verdict inconsistent with the returned flag lists. The grant is
// skipped for the run, never retried in place.
type ParseError struct {
	Reason string
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "parse error"
	}
	msg := "model response parse error: " + strings.TrimSpace(e.Reason)
	if strings.TrimSpace(e.Detail) != "" {
		msg += " detail=" + strings.TrimSpace(e.Detail)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WriteError reports a rejected spreadsheet mutation. The row is written in a
// single request, so a failed append leaves the sheet unmodified for that row.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	if e == nil {
		return "write error"
	}
	return fmt.Sprintf("write error: op=%s cause=%v", strings.TrimSpace(e.Op), e.Err)
}

func (e *WriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransientError marks an error as retryable. The classifier retries a
// transient failure exactly once before giving up on the grant.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
