package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/avikram/notify-service/internal/model"
)

// Result is what a provider reports back on successful delivery.
type Result struct {
	// MessageID is the vendor-assigned id of the accepted message, if any.
	MessageID string
	// Response is a short human-readable vendor response for diagnostics.
	Response string
}

// Sender is the single capability each channel/vendor implementation must
// satisfy. Implementations own their wire protocol, auth and request
// timeout.
type Sender interface {
	Send(ctx context.Context, env *model.Envelope) (*Result, error)
}

// PermanentError marks a provider rejection that no retry can fix:
// invalid recipient, malformed payload and the like. The worker moves
// such envelopes straight to failed without consuming retry attempts.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return e.Reason
}

func Permanent(format string, args ...interface{}) error {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err is (or wraps) a permanent rejection.
// Everything else is treated as transient.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
