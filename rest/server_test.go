package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowrelay/flowrelay/model"
	"github.com/flowrelay/flowrelay/network"
	"github.com/stretchr/testify/require"
)

func TestHandleGetStatus(t *testing.T) {
	netStore := network.NewStore()
	netStore.Dispatch(network.HasNoNetworkAction())
	queue := []model.QueuedRequest{{Id: "q1"}, {Id: "q2"}}

	server, err := NewServer(0, netStore, func() []model.QueuedRequest { return queue })
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["hasNetwork"])
	require.Equal(t, true, body["isOffline"])
	require.Equal(t, float64(2), body["queueDepth"])
}

func TestHandleGetQueue(t *testing.T) {
	server, err := NewServer(0, network.NewStore(), func() []model.QueuedRequest {
		return []model.QueuedRequest{{Id: "q1"}}
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var queue []model.QueuedRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue, 1)
	require.Equal(t, "q1", queue[0].Id)
}

func TestMetricsEndpointIsWired(t *testing.T) {
	server, err := NewServer(0, network.NewStore(), func() []model.QueuedRequest { return nil })
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
