package orchestrator

import (
	"context"
	"errors"

	"github.com/ashureev/ecoplan/internal/store"
)

// Watch streams the session's status view: the current one at once, then
// one after each change. The channel closes when the session completes or
// fails, when it is deleted, or when ctx is done.
func (o *Orchestrator) Watch(ctx context.Context, sessionID string) (<-chan *StatusView, error) {
	sub := o.hub.Register(sessionID)
	first, err := o.Status(ctx, sessionID)
	if err != nil {
		o.hub.Unregister(sessionID, sub)
		return nil, err
	}

	out := make(chan *StatusView, 1)
	out <- first

	go func() {
		defer close(out)
		defer o.hub.Unregister(sessionID, sub)
		if first.Terminal() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Closed:
				return
			case <-sub.C:
			}

			v, err := o.Status(ctx, sessionID)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
					o.logger.Warn("Watch stopped", "session_id", sessionID, "error", err)
				}
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
			if v.Terminal() {
				return
			}
		}
	}()
	return out, nil
}
