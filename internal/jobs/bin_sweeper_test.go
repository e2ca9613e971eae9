package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"congregation-admin-go/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	calls atomic.Int32
	n     int
	err   error
}

func (p *fakePurger) PurgeExpired(context.Context) (int, error) {
	p.calls.Add(1)
	return p.n, p.err
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	if l.err != nil {
		return func() {}, false, l.err
	}
	if l.held {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, msg notify.Message) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return 1, nil
}

func TestNewBinSweeper_DefaultInterval(t *testing.T) {
	assert.Equal(t, time.Hour, NewBinSweeper(&fakePurger{}, 0).interval)
	assert.Equal(t, time.Hour, NewBinSweeper(&fakePurger{}, -time.Minute).interval)
	assert.Equal(t, 5*time.Minute, NewBinSweeper(&fakePurger{}, 5*time.Minute).interval)
}

func TestRunOnce_NotifiesWhenItemsPurged(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewBinSweeper(&fakePurger{n: 2}, time.Hour).WithNotifier(b)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, b.msgs, 1)
	assert.Contains(t, b.msgs[0].Body, "2 expired item(s)")
}

func TestRunOnce_NothingPurgedSendsNothing(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewBinSweeper(&fakePurger{}, time.Hour).WithNotifier(b)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, b.msgs)
}

func TestRunOnce_ReturnsPartialFailure(t *testing.T) {
	s := NewBinSweeper(&fakePurger{n: 1, err: errors.New("one item failed")}, time.Hour)

	n, err := s.RunOnce(context.Background())
	assert.Equal(t, 1, n)
	assert.EqualError(t, err, "one item failed")
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	p := &fakePurger{n: 3}
	s := NewBinSweeper(p, time.Hour).WithLocker(&fakeLocker{held: true})

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, p.calls.Load())
}

func TestRunOnce_ReleasesLock(t *testing.T) {
	l := &fakeLocker{}
	p := &fakePurger{}
	s := NewBinSweeper(p, time.Hour).WithLocker(l)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, 1, l.released)
}

func TestRunOnce_LockError(t *testing.T) {
	p := &fakePurger{}
	s := NewBinSweeper(p, time.Hour).WithLocker(&fakeLocker{err: errors.New("redis down")})

	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "redis down")
	assert.Zero(t, p.calls.Load())
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	p := &fakePurger{}
	s := NewBinSweeper(p, time.Hour)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	p := &fakePurger{}
	s := NewBinSweeper(p, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
