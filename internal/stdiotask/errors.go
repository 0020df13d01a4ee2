package stdiotask

import "fmt"

// Error codes mirror the STDIO protocol's fatal/soft distinction: 2 for a
// malformed input shape, 3 for a semantically invalid header or task.
const (
	ErrCodeParse      = 2
	ErrCodeValidation = 3
)

// FormatError is one fatal parse/validation failure, with the 1-indexed
// input line it was detected on (0 when not line-specific).
type FormatError struct {
	Line    int
	Code    int
	Message string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s (code %d)", e.Line, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func parseErr(line int, format string, args ...any) *FormatError {
	return &FormatError{Line: line, Code: ErrCodeParse, Message: fmt.Sprintf(format, args...)}
}

func validationErr(line int, format string, args ...any) *FormatError {
	return &FormatError{Line: line, Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ParseErrors is a batch of FormatErrors accumulated while parsing a
// multi-task submission; parsing continues past a malformed task so a
// caller sees every defect in one pass.
type ParseErrors []*FormatError

func (e ParseErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d errors, first: %s", len(e), e[0].Error())
}
