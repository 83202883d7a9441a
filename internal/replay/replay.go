// Package replay plays back a telemetry log with its recorded timing.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/ratelimit"

	"telemux/internal/logsink"
)

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	// Speed: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
	Speed float64
	Loop  bool
	// MaxGap caps any single wait. Logs appended across runs contain long
	// idle gaps between sessions. 0 means no cap.
	MaxGap time.Duration
	// Kinds selects which record kinds are played. Empty means all.
	Kinds []logsink.Kind
	// MaxRate caps callbacks per second. 0 means no cap.
	MaxRate int
}

// Play invokes cb for each selected record in log order, sleeping for the
// recorded gap between consecutive selected records. Records that go back
// in time are played without waiting.
func Play(ctx context.Context, records []logsink.Record, opts Options, sleeper Sleeper, cb func(logsink.Record) error) error {
	if opts.Speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if opts.MaxGap < 0 {
		return fmt.Errorf("max gap must be >= 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}

	selected := filter(records, opts.Kinds)
	if len(selected) == 0 {
		return errors.New("no records")
	}

	limiter := ratelimit.NewUnlimited()
	if opts.MaxRate > 0 {
		limiter = ratelimit.New(opts.MaxRate)
	}

	for {
		var last time.Time
		for i, r := range selected {
			if err := ctx.Err(); err != nil {
				return err
			}
			if i > 0 {
				wait := r.At.Sub(last)
				if wait < 0 {
					wait = 0
				}
				if opts.MaxGap > 0 && wait > opts.MaxGap {
					wait = opts.MaxGap
				}
				wait = time.Duration(float64(wait) / opts.Speed)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
			limiter.Take()
			if err := cb(r); err != nil {
				return err
			}
			last = r.At
		}
		if !opts.Loop {
			return nil
		}
	}
}

func filter(records []logsink.Record, kinds []logsink.Kind) []logsink.Record {
	if len(kinds) == 0 {
		return records
	}
	want := make(map[logsink.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := make([]logsink.Record, 0, len(records))
	for _, r := range records {
		if r.Entry != nil && want[r.Entry.Kind()] {
			out = append(out, r)
		}
	}
	return out
}
