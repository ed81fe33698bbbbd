package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/dalemusser/sessionkeep/pantry/session/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestIsValidLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"debug", true},
		{"INFO", true},
		{" warn ", true},
		{"fatal", true},
		{"verbose", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidLogLevel(tt.level); got != tt.want {
			t.Errorf("IsValidLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestBuildLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := BuildLogger("verbose", "prod")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestRequestLogger_IncludesSessionID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mem := session.NewMemoryBackendWithConfig(session.MemoryBackendConfig{CleanupInterval: -1})
	defer mem.Close()
	manager := binding.NewManager(session.NewRepository(mem, session.Config{}), binding.Config{})

	var id string
	handler := binding.Middleware(manager)(RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := binding.Get(r, true)
		require.NoError(t, err)
		id = h.ID()
		w.WriteHeader(http.StatusCreated)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/session", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["session_id"])
	assert.Equal(t, int64(http.StatusCreated), fields["status"])
	assert.Equal(t, "/session", fields["path"])
}

func TestRequestLogger_NoSession(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	_, ok := fields["session_id"]
	assert.False(t, ok)
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, int64(2), fields["bytes"])
}

func TestRecoverer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := Recoverer(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecoverer_AfterHeadersWritten(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := Recoverer(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic occurred after headers written; response may be incomplete").Len())
}

func TestRecoverer_RepanicsAbort(t *testing.T) {
	handler := Recoverer(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
