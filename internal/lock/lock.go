package lock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a crashed or hung holder can block other
// writers to the same conversation.
const DefaultTTL = 30 * time.Second

// Clock abstracts time for the acquisition loop so backoff behavior is
// testable without real timers.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is the retry policy for contended acquisitions: short
// exponential delays with jitter, capped at Max. Acquisition itself has
// no deadline; callers needing bounded waiting pass a context with one.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultBackoff polls quickly at first so the first retrier after a
// release tends to win, which gives best-effort FIFO under light
// contention without pretending to be a ticket queue.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    25 * time.Millisecond,
		Max:        500 * time.Millisecond,
		Multiplier: 1.5,
		Jitter:     true,
	}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter {
		// up to 10% either way, to avoid synchronized pollers
		jitterRange := d * 0.1
		d += (rand.Float64() - 0.5) * 2 * jitterRange
		if d < 0 {
			d = float64(b.Initial)
		}
	}
	return time.Duration(d)
}

// Service hands out time-bounded leases over resource ids. It is a
// free-standing composition of a Store and policies rather than a
// method set attached to the conversation record.
type Service struct {
	store      Store
	clock      Clock
	backoff    Backoff
	defaultTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithBackoff(b Backoff) Option { return func(s *Service) { s.backoff = b } }

func WithDefaultTTL(d time.Duration) Option { return func(s *Service) { s.defaultTTL = d } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		clock:      realClock{},
		backoff:    DefaultBackoff(),
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire obtains the lease for resourceID, retrying until success or
// ctx cancellation. A zero ttl means the default TTL. Expired records
// left by crashed holders are swept opportunistically before backing
// off, so acquisition never deadlocks permanently.
func (s *Service) Acquire(ctx context.Context, resourceID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	token := uuid.NewString()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("acquire lock for %s: %w", resourceID, err)
		}

		now := s.clock.Now()
		ok, err := s.store.Insert(ctx, Record{
			ResourceID: resourceID,
			Token:      token,
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		})
		if err != nil {
			return "", fmt.Errorf("insert lock record for %s: %w", resourceID, err)
		}
		if ok {
			return token, nil
		}

		// A record exists. Sweep it if its lease has passed; a holder
		// that crashed without releasing must not block forever.
		swept, err := s.store.DeleteExpired(ctx, resourceID, s.clock.Now())
		if err != nil {
			return "", fmt.Errorf("sweep expired lock for %s: %w", resourceID, err)
		}
		if swept > 0 {
			log.Warn().Str("resource", resourceID).Msg("swept expired lock record")
			continue // retry the insert immediately
		}

		if err := s.clock.Sleep(ctx, s.backoff.delay(attempt)); err != nil {
			return "", fmt.Errorf("acquire lock for %s: %w", resourceID, err)
		}
	}
}

// Release deletes the lease. Idempotent: releasing twice, or after
// expiry, is not an error. Store failures are logged and swallowed
// since the TTL is the fallback safety net.
func (s *Service) Release(ctx context.Context, resourceID, token string) {
	if err := s.store.Delete(ctx, resourceID, token); err != nil {
		log.Error().Err(err).Str("resource", resourceID).Msg("failed to release lock; lease will expire")
	}
}

// WithLock is the sanctioned usage pattern for business logic: acquire,
// run fn, release unconditionally. fn must re-read the resource it
// guards rather than use a snapshot captured before waiting, because
// another writer may have mutated it meanwhile.
func (s *Service) WithLock(ctx context.Context, resourceID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := s.Acquire(ctx, resourceID, ttl)
	if err != nil {
		return err
	}
	defer s.Release(context.WithoutCancel(ctx), resourceID, token)
	return fn(ctx)
}
