package services

import "context"

// Notifier delivers user-facing notifications. Implementations must be
// best-effort and non-blocking — settlement never waits on delivery, and
// notices are only dispatched after the driving transaction has committed.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string)
}

type notice struct {
	userID string
	title  string
	body   string
}

func dispatch(n Notifier, notices []notice) {
	if n == nil {
		return
	}
	for _, msg := range notices {
		n.Notify(context.Background(), msg.userID, msg.title, msg.body)
	}
}
