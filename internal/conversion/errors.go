package conversion

import "fmt"

// ValidationError reports a request that cannot be converted because the client sent
// something missing or malformed. It is never worth retrying.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
