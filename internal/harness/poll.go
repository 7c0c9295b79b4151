package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/peerlink/internal/transport"
)

// PollUntil calls probe every interval until it returns nil. It gives up with
// ErrPublicationTimeout, wrapping the last probe error, once timeout has
// elapsed. Cancelling ctx stops polling with ctx's error.
//
// Argument and certificate failures end polling at once: waiting longer does
// not change them. A probe cut short by the poll deadline does not replace
// the failure an earlier probe reported.
func PollUntil(ctx context.Context, timeout, interval time.Duration, probe func(ctx context.Context) error) error {
	if timeout <= 0 || interval <= 0 {
		return fmt.Errorf("%w: poll timeout %s and interval %s must be positive", transport.ErrArgument, timeout, interval)
	}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastErr  error
		attempts int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if deadline.Err() != nil {
			return publicationTimeout(timeout, attempts, lastErr)
		}

		attempts++
		err := probe(deadline)
		if err == nil {
			return nil
		}
		if errors.Is(err, transport.ErrArgument) || errors.Is(err, transport.ErrTLSRejected) {
			return err
		}
		if lastErr == nil || deadline.Err() == nil {
			lastErr = err
		}

		select {
		case <-ticker.C:
		case <-deadline.Done():
		}
	}
}

func publicationTimeout(timeout time.Duration, attempts int, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%w after %s (%d attempts)", ErrPublicationTimeout, timeout, attempts)
	}
	return fmt.Errorf("%w after %s (%d attempts): %w", ErrPublicationTimeout, timeout, attempts, lastErr)
}
