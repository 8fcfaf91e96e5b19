package recorder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError signals an invalid stream fleet description. Raised at
// construction time only; a manager that exists is correctly configured.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "recorder: invalid configuration: " + e.Reason
}

// IsConfig reports whether err is a configuration rejection.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InvalidStateError signals an operation that is not legal in the stream's
// current lifecycle state.
type InvalidStateError struct {
	Stream string
	Op     string
	State  State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("recorder: stream %q: %s not allowed in state %s",
		e.Stream, e.Op, e.State)
}

// IsInvalidState reports whether err is a lifecycle contract violation.
func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// StreamFaultError signals streams that failed to reach the expected state
// within the readiness timeout. Streams lists the offenders by name.
type StreamFaultError struct {
	Op      string
	Streams []string
	Timeout time.Duration
}

func (e *StreamFaultError) Error() string {
	return fmt.Sprintf("recorder: %s: streams not ready after %s: %s",
		e.Op, e.Timeout, strings.Join(e.Streams, ", "))
}

// IsStreamFault reports whether err is a readiness timeout.
func IsStreamFault(err error) bool {
	var fe *StreamFaultError
	return errors.As(err, &fe)
}
