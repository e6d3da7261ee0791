package keymgmt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/internal/uuid"
)

const (
	// ExpiryGrace keeps a rotated-out key verifiable after the rotation
	// that replaced it.
	ExpiryGrace = 10 * time.Minute
	// DisabledRetryInterval is how often a disabled rotation re-reads its
	// profile.
	DisabledRetryInterval = time.Hour

	noRotationLifetime = 100 * 365 * 24 * time.Hour
)

// Rotation owns the signing key lifecycle. Exactly one timer is pending at
// any time, and the next one is armed only after the previous run
// finished, so slow key generation cannot overlap with itself.
type Rotation struct {
	profile   func() config.KeyManagementProfile
	generator KeyGenerator
	store     JWKStore
	holder    *CurrentKeyHolder
	clock     clockwork.Clock
	logger    *slog.Logger
	observer  func(error)

	mu      sync.Mutex
	timer   clockwork.Timer
	stopped bool
}

// RotationOption configures a Rotation.
type RotationOption func(*Rotation)

// WithRotationClock overrides the clock used for key expiry and for the
// rotation timers.
func WithRotationClock(c clockwork.Clock) RotationOption {
	return func(r *Rotation) { r.clock = c }
}

// WithRotationLogger sets the logger.
func WithRotationLogger(l *slog.Logger) RotationOption {
	return func(r *Rotation) { r.logger = l }
}

// WithRotationObserver is called after every scheduled rotation with its
// outcome.
func WithRotationObserver(fn func(error)) RotationOption {
	return func(r *Rotation) { r.observer = fn }
}

// NewRotation generates and publishes the initial key, makes it current and
// arms the first timer. A failure to produce the initial key is returned,
// since the gateway cannot sign anything without it.
func NewRotation(profile func() config.KeyManagementProfile, gen KeyGenerator, store JWKStore, holder *CurrentKeyHolder, opts ...RotationOption) (*Rotation, error) {
	r := &Rotation{
		profile:   profile,
		generator: gen,
		store:     store,
		holder:    holder,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.RotateNow(); err != nil {
		return nil, fmt.Errorf("creating initial signing key: %w", err)
	}
	r.schedule()
	return r, nil
}

// RotateNow generates a new key, publishes its public half and makes it
// current.
func (r *Rotation) RotateNow() error {
	key, err := r.generator.Generate()
	if err != nil {
		return err
	}
	kid := uuid.New()

	now := r.clock.Now()
	expiry := now.Add(noRotationLifetime)
	if interval, ok := rotationInterval(r.profile()); ok {
		expiry = now.Add(interval + ExpiryGrace)
	}

	if pub := key.Public(); pub != nil {
		method, err := key.SigningMethod()
		if err != nil {
			return err
		}
		if err := r.store.Add(kid, pub, method.Alg(), expiry); err != nil {
			return fmt.Errorf("publishing signing key: %w", err)
		}
	}
	if err := r.holder.Set(kid, key); err != nil {
		r.store.Remove(kid)
		return err
	}
	r.logger.Info("signing key rotated", "kid", kid, "type", key.Type, "expires", expiry)
	return nil
}

// Stop disarms the pending timer. A rotation already running completes but
// does not reschedule.
func (r *Rotation) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *Rotation) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if interval, ok := rotationInterval(r.profile()); ok {
		r.timer = r.clock.AfterFunc(interval, r.tick)
		return
	}
	r.timer = r.clock.AfterFunc(DisabledRetryInterval, r.schedule)
}

func rotationInterval(p config.KeyManagementProfile) (time.Duration, bool) {
	if !p.UseSigningKeyRotation || p.SigningKeyRotationSeconds <= 0 {
		return 0, false
	}
	return time.Duration(p.SigningKeyRotationSeconds) * time.Second, true
}

func (r *Rotation) tick() {
	err := r.RotateNow()
	if err != nil {
		r.logger.Error("signing key rotation failed, will retry next interval", "error", err)
	}
	if r.observer != nil {
		r.observer(err)
	}
	r.schedule()
}
