package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTextfile(t *testing.T, r *Registry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tbgwctl.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestRegistry_RecordsOperations(t *testing.T) {
	r := New()

	r.RecordOperation("update", "digitmap", "redirect", 2, 1500*time.Millisecond)
	r.RecordOperation("update", "digitmap", "redirect", 1, time.Second)
	r.RecordInvalidation()
	r.RecordBatch(2, 1, true)

	out := readTextfile(t, r)

	assert.Contains(t, out, `tbgwctl_operations_total{action="update",kind="digitmap",outcome="redirect"} 2`)
	assert.Contains(t, out, "tbgwctl_session_invalidations_total 1")
	assert.Contains(t, out, `tbgwctl_batch_items_total{result="failure"} 1`)
	assert.Contains(t, out, `tbgwctl_batch_items_total{result="success"} 2`)
	assert.Contains(t, out, "tbgwctl_batches_aborted_total 1")
	assert.Contains(t, out, "tbgwctl_operation_attempts_count 2")
	assert.Contains(t, out, "tbgwctl_last_run_timestamp_seconds")
}

func TestRegistry_InstrumentTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	r := New()
	hc := &http.Client{
		Transport: r.InstrumentTransport(nil),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	out := readTextfile(t, r)
	assert.Contains(t, out, `tbgwctl_http_requests_total{code="302",method="get"} 1`)
	assert.Contains(t, out, `tbgwctl_http_request_duration_seconds_count{method="get"} 1`)
}

func TestRegistry_WriteTextfileBadPath(t *testing.T) {
	err := New().WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
