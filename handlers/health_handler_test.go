package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/matrix-governance/services/audit"
	"github.com/upb/matrix-governance/services/governance"
	"github.com/upb/matrix-governance/services/sweeper"
	"go.uber.org/zap"
)

type stubAudit struct{ started bool }

func (s stubAudit) GetStats() audit.Stats {
	return audit.Stats{BufferSize: 10, WorkerCount: 2, Started: s.started}
}

type stubSweeper struct{ status sweeper.Status }

func (s stubSweeper) Status() sweeper.Status { return s.status }

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object")
	return data
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, "memory", stubAudit{}, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(mock sqlmock.Sqlmock)
		noDB       bool
		auditUp    bool
		wantStatus int
		wantChecks map[string]interface{}
	}{
		{
			name: "healthy when database is available",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
			},
			auditUp:    true,
			wantStatus: http.StatusOK,
			wantChecks: map[string]interface{}{"database": "healthy", "audit": "healthy"},
		},
		{
			name: "unhealthy when database ping fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing().WillReturnError(sql.ErrConnDone)
			},
			auditUp:    true,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]interface{}{"database": "unhealthy", "audit": "healthy"},
		},
		{
			name: "unhealthy when database query fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
				mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)
			},
			auditUp:    true,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]interface{}{"database": "unhealthy", "audit": "healthy"},
		},
		{
			name:       "unhealthy when the audit sink is stopped",
			noDB:       true,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]interface{}{"database": "healthy", "audit": "stopped"},
		},
		{
			name:       "healthy with in-memory storage",
			noDB:       true,
			auditUp:    true,
			wantStatus: http.StatusOK,
			wantChecks: map[string]interface{}{"database": "healthy", "audit": "healthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var db *sql.DB
			var mock sqlmock.Sqlmock
			if !tt.noDB {
				var err error
				db, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
				require.NoError(t, err)
				defer db.Close()
				tt.setup(mock)
			}

			handler := NewHealthHandler(db, "postgres", stubAudit{started: tt.auditUp}, nil, nil, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			handler.HandleReadiness(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			data := decodeData(t, w)
			assert.Equal(t, tt.wantChecks, data["checks"])

			if mock != nil {
				assert.NoError(t, mock.ExpectationsWereMet())
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	cache := governance.NewRuleCache(10, time.Minute)
	sweep := stubSweeper{status: sweeper.Status{
		Interval: time.Minute,
		Runs:     2,
		Last:     &sweeper.Result{Escalated: 1},
	}}
	handler := NewHealthHandler(nil, "memory", stubAudit{started: true}, cache, sweep, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler.HandleStatus(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "memory", data["storage"])

	auditStats := data["audit"].(map[string]interface{})
	assert.Equal(t, true, auditStats["started"])
	assert.Equal(t, float64(10), auditStats["buffer_size"])

	cacheStats := data["rule_cache"].(map[string]interface{})
	assert.Equal(t, float64(10), cacheStats["max_size"])

	sweepStatus := data["sweeper"].(map[string]interface{})
	assert.Equal(t, float64(2), sweepStatus["runs"])
	last := sweepStatus["last"].(map[string]interface{})
	assert.Equal(t, float64(1), last["escalated"])
}

func TestHandleStatus_WithoutOptionalParts(t *testing.T) {
	handler := NewHealthHandler(nil, "memory", stubAudit{}, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler.HandleStatus(w, req)

	data := decodeData(t, w)
	assert.NotContains(t, data, "rule_cache")
	assert.NotContains(t, data, "sweeper")
}
