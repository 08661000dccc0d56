package pendingsweep

import "context"

type Sweeper interface {
	SweepPending(ctx context.Context) (int, error)
}
