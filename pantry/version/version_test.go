package version

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	defer func(v, c, b string) { Version, Commit, BuildTime = v, c, b }(Version, Commit, BuildTime)

	assert.Equal(t, "dev", String())

	Version, Commit, BuildTime = "1.2.3", "abc123", "2024-01-15T10:30:00Z"
	assert.Equal(t, "1.2.3 (abc123, built 2024-01-15T10:30:00Z)", String())
}

func TestMount(t *testing.T) {
	r := chi.NewRouter()
	Mount(r, "sessiond")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "sessiond", info.Service)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}
