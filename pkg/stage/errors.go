package stage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
)

// TransportError is returned when a call never produced a coordinator reply.
type TransportError struct {
	Op     string
	TaskID string
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s task %q: transport error: %v", e.Op, e.TaskID, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolError is returned when the coordinator answered with a non-200
// status, or failed the call itself (Code 500, with the gRPC error as Cause).
type ProtocolError struct {
	Op     string
	TaskID string
	Self   protocol.Endpoint
	// Previous is set for inform-previous only.
	Previous *protocol.Endpoint
	Code     int32
	Message  string
	Cause    error
}

var failureHeadline = map[string]string{
	OpInformPrevious: "Failed to inform previous service info",
	OpInformCurrent:  "Failed to inform current service info",
	OpStart:          "Failed to start the service",
	OpStop:           "Failed to stop the service",
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	headline, ok := failureHeadline[e.Op]
	if !ok {
		headline = "Failed to " + e.Op
	}
	b.WriteString(headline + "\n")
	fmt.Fprintf(&b, "Task ID: %s\n", e.TaskID)
	if e.Previous != nil {
		writeEndpoint(&b, "Previous Service Info:", *e.Previous)
	}
	writeEndpoint(&b, "Current Service Info:", e.Self)
	b.WriteString("Error:\n")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

func writeEndpoint(b *strings.Builder, title string, ep protocol.Endpoint) {
	fmt.Fprintf(b, "%s\n   name: %s\n   ip:   %s\n   port: %s\n", title, ep.Name, ep.IP, ep.Port)
}

// Retryable reports whether err is a transport failure. Rejections and
// failures raised by the coordinator are never retryable.
func Retryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// backoffBase is the first retry delay; it doubles per attempt up to backoffMax.
var (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 10 * time.Second
)

// WithRetry calls fn up to maxAttempts times while it fails with a retryable
// error, sleeping with exponential backoff and jitter between attempts.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		base := backoffBase << uint(i)
		if base > backoffMax {
			base = backoffMax
		}
		jitter := time.Duration(rand.Float64() * 0.5 * float64(base))
		wait := base/4*3 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}
