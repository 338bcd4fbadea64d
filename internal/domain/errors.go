package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrDuplicateID = errors.New("duplicate order id")
	ErrMissingBody = errors.New("missing request body")
)

// DecodeError reports a value that does not map onto the domain model:
// an unknown enum tag or a required field that is absent.
type DecodeError struct {
	Field   string
	Value   string
	Allowed []string
	Missing bool
}

func (e *DecodeError) Error() string {
	if e.Missing {
		return fmt.Sprintf("missing field `%s`", e.Field)
	}
	quoted := make([]string, len(e.Allowed))
	for i, a := range e.Allowed {
		quoted[i] = "`" + a + "`"
	}
	msg := fmt.Sprintf("unknown variant `%s`, expected one of %s", e.Value, strings.Join(quoted, ", "))
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	return msg
}

// StorageError wraps a failure of the backing table. Error returns the
// underlying message verbatim.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
