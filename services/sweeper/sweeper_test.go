package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockEscalator is a mock implementation of Escalator
type MockEscalator struct {
	mock.Mock
}

func (m *MockEscalator) EscalateOverdue(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// MockOverridePurger is a mock implementation of OverridePurger
type MockOverridePurger struct {
	mock.Mock
}

func (m *MockOverridePurger) DeleteExpiredOverrides(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type countingCache struct {
	calls   atomic.Int32
	evicted int
}

func (c *countingCache) CleanupExpired() int {
	c.calls.Add(1)
	return c.evicted
}

func TestSweeper_RunOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		escalated  int
		escErr     error
		deleted    int64
		delErr     error
		wantErrors int
	}{
		{name: "all tasks succeed", escalated: 3, deleted: 2},
		{name: "escalation fails", escErr: errors.New("db down"), deleted: 1, wantErrors: 1},
		{name: "both fail", escErr: errors.New("db down"), delErr: errors.New("db down"), wantErrors: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			esc := new(MockEscalator)
			esc.On("EscalateOverdue", mock.Anything, now).Return(tt.escalated, tt.escErr)
			purger := new(MockOverridePurger)
			purger.On("DeleteExpiredOverrides", mock.Anything, now).Return(tt.deleted, tt.delErr)
			cache := &countingCache{evicted: 4}

			s := New(esc, purger, cache, time.Minute, zap.NewNop()).WithClock(func() time.Time { return now })
			res := s.RunOnce(context.Background())

			assert.Equal(t, tt.escalated, res.Escalated)
			assert.Equal(t, tt.deleted, res.OverridesDeleted)
			assert.Equal(t, 4, res.CacheEvicted)
			assert.Len(t, res.Errors, tt.wantErrors)
			assert.Equal(t, int32(1), cache.calls.Load())

			st := s.Status()
			assert.Equal(t, int64(1), st.Runs)
			require.NotNil(t, st.Last)
			assert.Equal(t, now, st.Last.StartedAt)

			esc.AssertExpectations(t)
			purger.AssertExpectations(t)
		})
	}
}

func TestSweeper_NilCache(t *testing.T) {
	esc := new(MockEscalator)
	esc.On("EscalateOverdue", mock.Anything, mock.Anything).Return(0, nil)
	purger := new(MockOverridePurger)
	purger.On("DeleteExpiredOverrides", mock.Anything, mock.Anything).Return(int64(0), nil)

	res := New(esc, purger, nil, time.Minute, zap.NewNop()).RunOnce(context.Background())
	assert.Zero(t, res.CacheEvicted)
	assert.Empty(t, res.Errors)
}

func TestSweeper_Run(t *testing.T) {
	esc := new(MockEscalator)
	esc.On("EscalateOverdue", mock.Anything, mock.Anything).Return(0, nil)
	purger := new(MockOverridePurger)
	purger.On("DeleteExpiredOverrides", mock.Anything, mock.Anything).Return(int64(0), nil)

	s := New(esc, purger, &countingCache{}, 5*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Status().Runs >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_StatusBeforeFirstRun(t *testing.T) {
	s := New(new(MockEscalator), new(MockOverridePurger), nil, time.Minute, zap.NewNop())
	st := s.Status()
	assert.Zero(t, st.Runs)
	assert.Nil(t, st.Last)
	assert.Equal(t, time.Minute, st.Interval)
}
