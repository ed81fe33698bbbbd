package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/sessionkeep/pantry/jobs"
	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/stretchr/testify/assert"
)

type fakeSweeper struct {
	res session.SweepResult
	err error
}

func (f fakeSweeper) SweepNow() (session.SweepResult, error) { return f.res, f.err }

type fakeSessions struct {
	err error
}

func (f fakeSessions) Find(context.Context, string) (*session.Tracked, error) { return nil, f.err }
func (f fakeSessions) Delete(context.Context, string) error                   { return f.err }

func TestSweep(t *testing.T) {
	bucket := time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sweeper fakeSweeper
		want    int
	}{
		{"ok", fakeSweeper{res: session.SweepResult{Bucket: bucket, Markers: 3, Reclaimed: 2}}, http.StatusOK},
		{"partial failure", fakeSweeper{res: session.SweepResult{Bucket: bucket, Markers: 3, Reclaimed: 1}, err: errors.New("member failed")}, http.StatusInternalServerError},
		{"locked", fakeSweeper{err: jobs.ErrLockNotAcquired}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Routes(NewHandler(fakeSessions{}, tt.sweeper, nil))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSessions_StoreErrors(t *testing.T) {
	h := Routes(NewHandler(fakeSessions{err: errors.New("connection refused")}, fakeSweeper{}, nil))

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/sessions/abc", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, method)
	}

	h = Routes(NewHandler(fakeSessions{}, fakeSweeper{}, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
