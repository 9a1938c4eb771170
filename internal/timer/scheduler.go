package timer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fridaybazar/bazar/pkg/logger"
)

const DefaultTimeout = 10 * time.Minute

// DefaultWarnings are the remaining-time checkpoints at which a payer is warned.
var DefaultWarnings = []time.Duration{5 * time.Minute, 3 * time.Minute, time.Minute}

// ExpiryHandler acts on an order at each checkpoint. Both methods must
// re-check the order status themselves: the order may have moved on since it
// was scheduled.
type ExpiryHandler interface {
	// WarnIfPending returns false when the order is no longer pending, which
	// ends the order's chain.
	WarnIfPending(ctx context.Context, orderID string, remaining time.Duration) bool
	ExpireIfPending(ctx context.Context, orderID string)
}

type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithWarnings(warnings []time.Duration) Option {
	return func(s *Scheduler) { s.warnings = warnings }
}

// Scheduler runs one goroutine per pending order that sleeps from checkpoint
// to checkpoint. There is no per-order cancellation: a chain whose order was
// paid, cancelled or expired elsewhere ends at its next wake-up.
type Scheduler struct {
	logger   *logger.Logger
	clock    clockwork.Clock
	handler  ExpiryHandler
	timeout  time.Duration
	warnings []time.Duration

	mu     sync.Mutex
	active map[string]struct{}

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(handler ExpiryHandler, timeout time.Duration, logger *logger.Logger, opts ...Option) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		handler:  handler,
		timeout:  timeout,
		warnings: DefaultWarnings,
		active:   map[string]struct{}{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Timeout() time.Duration {
	return s.timeout
}

type checkpoint struct {
	at        time.Time
	remaining time.Duration
}

// Schedule starts the checkpoint chain of an order created at createdAt.
// An order created earlier resumes with what is left of its timeout;
// warnings whose time has passed are skipped. Scheduling an order that
// already has a chain is a no-op.
func (s *Scheduler) Schedule(orderID string, createdAt time.Time) bool {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.active[orderID]; ok {
		s.mu.Unlock()
		return false
	}
	s.active[orderID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	deadline := createdAt.Add(s.timeout)
	go s.run(orderID, deadline, s.checkpoints(deadline))
	return true
}

func (s *Scheduler) checkpoints(deadline time.Time) []checkpoint {
	warnings := append([]time.Duration{}, s.warnings...)
	sort.Slice(warnings, func(i, j int) bool { return warnings[i] > warnings[j] })

	out := make([]checkpoint, 0, len(warnings))
	for _, w := range warnings {
		if w <= 0 || w >= s.timeout {
			continue
		}
		out = append(out, checkpoint{at: deadline.Add(-w), remaining: w})
	}
	return out
}

func (s *Scheduler) run(orderID string, deadline time.Time, checkpoints []checkpoint) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, orderID)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in order timer", "order_id", orderID, "panic", r)
		}
	}()

	for _, cp := range checkpoints {
		if !cp.at.After(s.clock.Now()) {
			continue
		}
		if !s.sleepUntil(cp.at) {
			return
		}
		if !s.handler.WarnIfPending(s.ctx, orderID, cp.remaining) {
			s.logger.Debug("Order left pending, timer done", "order_id", orderID)
			return
		}
	}

	if !s.sleepUntil(deadline) {
		return
	}
	s.handler.ExpireIfPending(s.ctx, orderID)
}

// sleepUntil returns false if the scheduler was stopped first.
func (s *Scheduler) sleepUntil(t time.Time) bool {
	wait := t.Sub(s.clock.Now())
	if wait <= 0 {
		return s.ctx.Err() == nil
	}
	select {
	case <-s.clock.After(wait):
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Active returns the number of running chains.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stop abandons all chains and waits for their goroutines to exit. Pending
// orders are picked up again by reconciliation on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("Order timers stopped")
}
