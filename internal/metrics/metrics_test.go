package metrics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"segcompact/internal/compaction"
	"segcompact/internal/metrics"
)

type fakeOps struct {
	infos   []compaction.Info
	stopped []compaction.OperationType
}

func (f *fakeOps) Compactions() []compaction.Info { return f.infos }

func (f *fakeOps) StopCompaction(t compaction.OperationType) int {
	f.stopped = append(f.stopped, t)
	return 2
}

type lookup struct{}

func (lookup) Lookup(id compaction.TableID) (string, string, bool) {
	if id == 42 {
		return "ks1", "cf1", true
	}
	return "", "", false
}

func TestCompactionsEndpoint(t *testing.T) {
	ops := &fakeOps{infos: []compaction.Info{
		compaction.NewTableInfo(lookup{}, 42, compaction.OperationCompaction, 500, 1000),
		compaction.NewInfo(compaction.OperationKeyCacheSave, 1, 2),
	}}
	srv := httptest.NewServer(metrics.NewHandler(prometheus.NewRegistry(), ops, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/compactions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []map[string]string{{
		"id":            "42",
		"keyspace":      "ks1",
		"columnfamily":  "cf1",
		"bytesComplete": "500",
		"totalBytes":    "1000",
		"taskType":      "COMPACTION",
	}}, got)
}

func TestStopEndpoint(t *testing.T) {
	ops := &fakeOps{}
	srv := httptest.NewServer(metrics.NewHandler(prometheus.NewRegistry(), ops, zap.NewNop()))
	defer srv.Close()

	tests := map[string]struct {
		method    string
		query     string
		expStatus int
	}{
		"stop compactions": {method: http.MethodPost, query: "?type=compaction", expStatus: http.StatusOK},
		"unknown type":     {method: http.MethodPost, query: "?type=defrag", expStatus: http.StatusBadRequest},
		"wrong method":     {method: http.MethodGet, query: "?type=compaction", expStatus: http.StatusMethodNotAllowed},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(test.method, srv.URL+"/compactions/stop"+test.query, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, test.expStatus, resp.StatusCode)
		})
	}

	assert.Equal(t, []compaction.OperationType{compaction.OperationCompaction}, ops.stopped)
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)

	c.SetTotalCounts(3, 100)
	c.AddBytes(60)
	c.IncCompacted(time.Second)
	c.IncSkipped(40)
	c.IncFailed()
	c.SetActiveTasks(1)

	expected := `
# HELP segcompact_tables_total Total number of tables processed, by outcome
# TYPE segcompact_tables_total counter
segcompact_tables_total{outcome="compacted"} 1
segcompact_tables_total{outcome="failed"} 1
segcompact_tables_total{outcome="skipped"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "segcompact_tables_total"))

	status := c.GetProgressTracker().GetStatus()
	assert.Equal(t, int64(100), status.ProcessedBytes)
	assert.Equal(t, int64(3), status.ProcessedTables)
}

func TestClient(t *testing.T) {
	ops := &fakeOps{infos: []compaction.Info{
		compaction.NewTableInfo(lookup{}, 42, compaction.OperationCompaction, 0, 1000),
	}}
	srv := httptest.NewServer(metrics.NewHandler(prometheus.NewRegistry(), ops, zap.NewNop()))
	defer srv.Close()

	client := metrics.NewClient(srv.URL)
	ctx := context.Background()

	got, err := client.Compactions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cf1", got[0]["columnfamily"])

	resp, err := client.Stop(ctx, "compaction")
	require.NoError(t, err)
	assert.Equal(t, metrics.StopResponse{Type: "COMPACTION", Stopped: 2}, resp)

	_, err = client.Stop(ctx, "defrag")
	assert.Error(t, err)
}
