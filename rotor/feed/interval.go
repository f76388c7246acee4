package feed

import (
	"context"
	"time"

	"github.com/TheusHen/Rotor/rotor/session"
)

// Interval publishes the session returned by next on every tick.
// It returns when ctx ends or when next or Publish fails. The feed is left open.
func Interval(ctx context.Context, f Feed, every time.Duration, next func() (session.Session, error)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s, err := next()
			if err != nil {
				return err
			}
			if err := f.Publish(ctx, s); err != nil {
				return err
			}
		}
	}
}
