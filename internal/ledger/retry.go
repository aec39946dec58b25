package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

const sqliteBusyCode = 5

// busyRetry reruns an operation that failed because another process held the
// database, doubling the pause between attempts up to maxDelay.
type busyRetry struct {
	attempts int
	delay    time.Duration
	maxDelay time.Duration
}

var defaultBusyRetry = busyRetry{attempts: 5, delay: 10 * time.Millisecond, maxDelay: 200 * time.Millisecond}

func (r busyRetry) do(ctx context.Context, op func() error) error {
	delay := r.delay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !isSQLiteBusy(err) || attempt >= r.attempts {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, r.maxDelay)
	}
}

// isSQLiteBusy matches SQLITE_BUSY and its extended codes, falling back to
// the message for errors that lost their code on the way up.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == sqliteBusyCode
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
