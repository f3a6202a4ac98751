package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a campaign does not exist or is not visible
// to the caller.
var ErrNotFound = errors.New("campaign not found")

// ValidationError is a malformed request. Handlers map it to 4xx.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func jsonMessage(err error) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"message": err.Error()})
}
