package timer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaybazar/bazar/pkg/logger"
)

type recordingHandler struct {
	mu      sync.Mutex
	pending map[string]bool
	calls   chan string
}

func newRecordingHandler(ids ...string) *recordingHandler {
	h := &recordingHandler{pending: map[string]bool{}, calls: make(chan string, 16)}
	for _, id := range ids {
		h.pending[id] = true
	}
	return h
}

func (h *recordingHandler) setPending(id string, pending bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[id] = pending
}

func (h *recordingHandler) WarnIfPending(_ context.Context, orderID string, remaining time.Duration) bool {
	h.mu.Lock()
	pending := h.pending[orderID]
	h.mu.Unlock()
	if pending {
		h.calls <- fmt.Sprintf("warn %s %s", orderID, remaining)
	}
	return pending
}

func (h *recordingHandler) ExpireIfPending(_ context.Context, orderID string) {
	h.mu.Lock()
	pending := h.pending[orderID]
	h.pending[orderID] = false
	h.mu.Unlock()
	if pending {
		h.calls <- "expire " + orderID
	}
}

func (h *recordingHandler) next(t *testing.T) string {
	t.Helper()
	select {
	case c := <-h.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer callback")
		return ""
	}
}

func (h *recordingHandler) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.calls:
		t.Fatalf("unexpected callback %q", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestScheduler(h ExpiryHandler, timeout time.Duration) (*Scheduler, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewScheduler(h, timeout, logger.NewNop(), WithClock(clock)), clock
}

func TestFullChain(t *testing.T) {
	h := newRecordingHandler("FBP000001")
	s, clock := newTestScheduler(h, 10*time.Minute)
	defer s.Stop()

	require.True(t, s.Schedule("FBP000001", clock.Now()))
	assert.Equal(t, 1, s.Active())

	steps := []struct {
		advance time.Duration
		want    string
	}{
		{5 * time.Minute, "warn FBP000001 5m0s"},
		{2 * time.Minute, "warn FBP000001 3m0s"},
		{2 * time.Minute, "warn FBP000001 1m0s"},
		{1 * time.Minute, "expire FBP000001"},
	}
	for _, step := range steps {
		clock.BlockUntil(1)
		clock.Advance(step.advance)
		assert.Equal(t, step.want, h.next(t))
	}

	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
	h.assertQuiet(t)
}

func TestChainEndsWhenOrderLeavesPending(t *testing.T) {
	h := newRecordingHandler("FBP000002")
	s, clock := newTestScheduler(h, 10*time.Minute)
	defer s.Stop()

	s.Schedule("FBP000002", clock.Now())
	clock.BlockUntil(1)
	clock.Advance(5 * time.Minute)
	assert.Equal(t, "warn FBP000002 5m0s", h.next(t))

	h.setPending("FBP000002", false)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)

	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
	clock.Advance(10 * time.Minute)
	h.assertQuiet(t)
}

func TestShortTimeoutSkipsLongWarnings(t *testing.T) {
	h := newRecordingHandler("FBP000003")
	s, clock := newTestScheduler(h, 2*time.Minute)
	defer s.Stop()

	s.Schedule("FBP000003", clock.Now())
	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	assert.Equal(t, "warn FBP000003 1m0s", h.next(t))
	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	assert.Equal(t, "expire FBP000003", h.next(t))
}

func TestResumeSkipsPastWarnings(t *testing.T) {
	h := newRecordingHandler("FBP000004")
	s, clock := newTestScheduler(h, 10*time.Minute)
	defer s.Stop()

	s.Schedule("FBP000004", clock.Now().Add(-6*time.Minute))
	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	assert.Equal(t, "warn FBP000004 3m0s", h.next(t))
}

func TestOverdueOrderExpiresImmediately(t *testing.T) {
	h := newRecordingHandler("FBP000005")
	s, clock := newTestScheduler(h, 10*time.Minute)
	defer s.Stop()

	s.Schedule("FBP000005", clock.Now().Add(-11*time.Minute))
	assert.Equal(t, "expire FBP000005", h.next(t))
}

func TestDuplicateScheduleIgnored(t *testing.T) {
	h := newRecordingHandler("FBP000006")
	s, clock := newTestScheduler(h, 10*time.Minute)
	defer s.Stop()

	assert.True(t, s.Schedule("FBP000006", clock.Now()))
	assert.False(t, s.Schedule("FBP000006", clock.Now()))
	assert.Equal(t, 1, s.Active())
}

func TestStopAbandonsChains(t *testing.T) {
	h := newRecordingHandler("FBP000007", "FBP000008")
	s, clock := newTestScheduler(h, 10*time.Minute)

	s.Schedule("FBP000007", clock.Now())
	s.Schedule("FBP000008", clock.Now())
	clock.BlockUntil(2)
	s.Stop()

	assert.Equal(t, 0, s.Active())
	assert.False(t, s.Schedule("FBP000009", clock.Now()))
	clock.Advance(time.Hour)
	h.assertQuiet(t)
}
