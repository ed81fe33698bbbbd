package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abc", 3, "abc"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"multibyte boundary", "aé", 2, "a"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateUTF8(tt.in, tt.max); got != tt.want {
				t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestHTTPMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetrics)
	r.Get("/session/attributes/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	before := testutil.CollectAndCount(reqDuration)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/session/attributes/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/session/attributes/b", nil))

	// Both requests share one series.
	assert.Equal(t, before+1, testutil.CollectAndCount(reqDuration))
}

func TestPathLabel_Truncates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/"+strings.Repeat("x", 400), nil)
	label := pathLabel(req)
	assert.Len(t, label, maxPathLabelLength)
	assert.True(t, strings.HasSuffix(label, "..."))
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(zap.NewNop(), reg)

	m.ObserveSave()
	m.ObserveSave()
	m.ObserveDelete()

	bucket := time.Date(2024, 5, 1, 12, 31, 0, 0, time.UTC)
	m.ObserveSweep(session.SweepResult{Bucket: bucket, Markers: 3, Reclaimed: 2}, nil)
	m.ObserveSweep(session.SweepResult{Bucket: bucket.Add(time.Minute), Markers: 1}, errors.New("partial"))

	_ = m.OnSessionEvent(context.Background(), session.Event{Type: session.EventExpired})
	_ = m.OnSessionEvent(context.Background(), session.Event{Type: session.EventExpired})
	_ = m.OnSessionEvent(context.Background(), session.Event{Type: session.EventCreated})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.saves))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sweepMarkers))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepReclaimed))
	assert.Equal(t, float64(bucket.Add(time.Minute).Unix()), testutil.ToFloat64(m.lastSweep))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("created")))
}

func TestSessionMetrics_DrivenByRepository(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(zap.NewNop(), reg)

	mem := session.NewMemoryBackendWithConfig(session.MemoryBackendConfig{CleanupInterval: -1})
	defer mem.Close()
	repo := session.NewRepository(mem, session.Config{Metrics: m, Listener: m})

	ctx := context.Background()
	tr, err := repo.Create(ctx)
	assert.NoError(t, err)
	assert.NoError(t, repo.Save(ctx, tr))
	assert.NoError(t, repo.Delete(ctx, tr.ID()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.saves))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("deleted")))
}
