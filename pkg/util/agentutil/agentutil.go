package agentutil

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Send executes a prepared fiber.Agent, bounding it by both timeout and the context
// deadline, and returns the status code and a copy of the body. The agent is released.
func Send(ctx context.Context, a *fiber.Agent, timeout time.Duration) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return 0, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fiber.ReleaseAgent(a)
			return 0, nil, context.DeadlineExceeded
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		a.Timeout(timeout)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return code, body, errors.Join(errs...)
	}
	return code, body, nil
}

// Retryable reports whether an HTTP status is worth another attempt.
func Retryable(status int) bool {
	return status == fiber.StatusTooManyRequests || status >= fiber.StatusInternalServerError
}
