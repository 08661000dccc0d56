package healthcheck

import "context"

type (
	// Alerter delivers dependency alerts to staff, e.g. the Telegram mirror.
	Alerter interface {
		Broadcast(ctx context.Context, text string) error
	}

	Dependency struct {
		Name  string
		Check func(ctx context.Context) error
	}
)
