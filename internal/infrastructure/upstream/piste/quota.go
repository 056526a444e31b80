package piste

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// Quota is the rate budget for one upstream: a per-second cap enforced by
// a token bucket and a daily cap reset at midnight UTC.
type Quota struct {
	PerSecond float64
	Burst     int
	DailyCap  int
}

type quota struct {
	bucket   *rate.Limiter
	dailyCap int
	now      func() time.Time

	mu        sync.Mutex
	day       time.Time
	used      int
	notBefore time.Time
}

func newQuota(q Quota, now func() time.Time) *quota {
	if q.PerSecond <= 0 {
		q.PerSecond = 1
	}
	if q.Burst <= 0 {
		q.Burst = 1
	}
	return &quota{
		bucket:   rate.NewLimiter(rate.Limit(q.PerSecond), q.Burst),
		dailyCap: q.DailyCap,
		now:      now,
	}
}

func (q *quota) acquire(ctx context.Context) error {
	if err := q.waitDelay(ctx); err != nil {
		return err
	}
	if err := q.spendDaily(); err != nil {
		return err
	}
	if err := q.bucket.Wait(ctx); err != nil {
		q.refundDaily()
		return err
	}
	return nil
}

func (q *quota) tryAcquire() error {
	q.mu.Lock()
	delayed := q.now().Before(q.notBefore)
	q.mu.Unlock()
	if delayed {
		return domain.WrapError(domain.ErrQuotaExceeded, "rate delay", errTooManyRequests)
	}
	if err := q.spendDaily(); err != nil {
		return err
	}
	if !q.bucket.Allow() {
		q.refundDaily()
		return domain.WrapError(domain.ErrQuotaExceeded, "per-second cap", errTooManyRequests)
	}
	return nil
}

func (q *quota) waitDelay(ctx context.Context) error {
	q.mu.Lock()
	until := q.notBefore
	q.mu.Unlock()

	now := q.now()
	if !now.Before(until) {
		return nil
	}
	timer := time.NewTimer(until.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *quota) spendDaily() error {
	if q.dailyCap <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	today := q.now().UTC().Truncate(24 * time.Hour)
	if !today.Equal(q.day) {
		q.day = today
		q.used = 0
	}
	if q.used >= q.dailyCap {
		return domain.WrapError(domain.ErrQuotaExceeded, "daily cap", errDailyCap)
	}
	q.used++
	return nil
}

func (q *quota) refundDaily() {
	if q.dailyCap <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used > 0 {
		q.used--
	}
}

func (q *quota) delayUntil(t time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.After(q.notBefore) {
		q.notBefore = t
	}
}

var (
	errTooManyRequests = errors.New("request budget exhausted")
	errDailyCap        = errors.New("daily request cap reached")
)
