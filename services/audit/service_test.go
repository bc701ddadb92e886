package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/matrix-governance/config"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

var _ repositories.AuditRepository = (*MockAuditRepository)(nil)

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedLogs = append(m.insertedLogs, log)
	return nil
}

func (m *MockAuditRepository) GetBySubject(ctx context.Context, subject models.SubjectRef, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, subject, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetByRule(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, ruleID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

func requestedLog(company string) *models.AuditLog {
	return models.NewAuditLog(company, models.AuditActionApprovalRequested, "approval_request").
		WithSubject(models.SubjectRef{Model: "sale.order", ID: "SO001"})
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start(), "cannot start twice")

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second), "cannot stop twice")
}

func TestAuditService_StopFlushesQueuedEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, service.LogEvent(&AuditEvent{Log: requestedLog("acme")}))
	}
	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.GetInsertedLogs()
	assert.Len(t, inserted, 50)
	assert.Equal(t, models.AuditActionApprovalRequested, inserted[0].Action)
	assert.Equal(t, "SO001", inserted[0].SubjectID)
}

func TestAuditService_LogEventBlocking(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())

	require.NoError(t, service.LogEventBlocking(context.Background(), &AuditEvent{Log: requestedLog("acme")}))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 1)
}

func TestAuditService_LogEventBlocking_ContextCancelled(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())

	// one event held by the worker, one filling the buffer
	require.NoError(t, service.LogEvent(&AuditEvent{Log: requestedLog("acme")}))
	assert.Eventually(t, func() bool { return service.GetStats().PendingEvents == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, service.LogEvent(&AuditEvent{Log: requestedLog("acme")}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := service.LogEventBlocking(ctx, &AuditEvent{Log: requestedLog("acme")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_NotRunning(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	assert.Error(t, service.LogEvent(&AuditEvent{Log: requestedLog("acme")}))
	assert.Error(t, service.LogEventBlocking(context.Background(), &AuditEvent{Log: requestedLog("acme")}))

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.Error(t, service.LogEvent(&AuditEvent{Log: requestedLog("acme")}), "closed service rejects events")
	assert.NotPanics(t, func() { service.Record(requestedLog("acme")) })
	mockRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestAuditService_ConcurrentRecord(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				service.Record(requestedLog("acme"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 100)
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 5, WorkerCount: 1})
	require.NoError(t, service.Start())

	accepted := 0
	for i := 0; i < 20; i++ {
		if service.LogEvent(&AuditEvent{Log: requestedLog("acme")}) == nil {
			accepted++
		}
	}

	assert.Less(t, accepted, 20)
	assert.Equal(t, int64(20-accepted), service.GetStats().Dropped)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_InsertFailureIsLogged(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	service.Record(requestedLog("acme"))
	require.NoError(t, service.Stop(5*time.Second))

	mockRepo.AssertNumberOfCalls(t, "Insert", 1)
	assert.Empty(t, mockRepo.GetInsertedLogs())
}

func TestAuditService_StopTimeout(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	defer close(release)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.LogEvent(&AuditEvent{Log: requestedLog("acme")}))

	err := service.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestConfig(t *testing.T) {
	def := DefaultConfig()
	assert.Equal(t, 1000, def.BufferSize)
	assert.Equal(t, 4, def.WorkerCount)
	assert.Equal(t, 5*time.Second, def.WriteTimeout)

	cfg := ConfigFrom(config.AuditConfig{BufferSize: 50, Workers: 2})
	assert.Equal(t, 50, cfg.BufferSize)
	assert.Equal(t, 2, cfg.WorkerCount)

	cfg = ConfigFrom(config.AuditConfig{})
	assert.Equal(t, def, cfg)
}
