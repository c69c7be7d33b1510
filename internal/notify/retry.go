package notify

import (
	"context"
	"errors"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	retryAttempts = 2
	retryInterval = time.Second
	retryMax      = 30 * time.Second
)

// Retrying redelivers a message on transient failure. Client errors (4xx)
// are permanent: a rejected webhook will not start accepting the same payload.
type Retrying struct {
	Next     Notifier
	Logger   *zap.Logger
	Attempts uint64
	Interval time.Duration
}

func NewRetrying(next Notifier, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{Next: next, Logger: logger, Attempts: retryAttempts, Interval: retryInterval}
}

func (r *Retrying) Send(ctx context.Context, msg Message) error {
	attempt := 0
	op := func() error {
		attempt++
		err := r.Next.Send(ctx, msg)
		if err == nil {
			return nil
		}
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != 429 {
			return back.Permanent(err)
		}
		r.Logger.Warn("notify_send_retry", zap.Int("attempt", attempt), zap.String("kind", string(msg.Kind)), zap.Error(err))
		return err
	}
	return back.Retry(op, back.WithContext(r.policy(), ctx))
}

func (r *Retrying) policy() back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = r.Interval
	bf.MaxInterval = retryMax
	return back.WithMaxRetries(bf, r.Attempts)
}
