package channels

import (
	"context"
	"time"

	"agendabot/internal/domain/routing"
)

// AwaitFeedback waits up to timeout for an acknowledgement on fb and calls
// onOK if one arrives. It returns whether onOK ran. Run it in its own
// goroutine; the hub never waits for it.
func AwaitFeedback(ctx context.Context, fb <-chan routing.Feedback, timeout time.Duration, onOK func()) bool {
	if fb == nil {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-fb:
		if f == routing.FeedbackOK && onOK != nil {
			onOK()
			return true
		}
		return false
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
