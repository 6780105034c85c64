package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicesim/internal/stream"
	"slicesim/internal/telemetry"
)

func wsURL(a *testAPI, id string) string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws/metrics/" + id
}

func TestStreamDeliversTicksThenStatus(t *testing.T) {
	a := newTestAPI(t)
	v := a.create(t, `{"pattern":"constant","traffic_volume":300,"duration":3,"interval":1}`)
	code, _ := a.do(t, http.MethodPost, "/simulation/"+v.ID()+"/start", "")
	require.Equal(t, http.StatusOK, code)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(a, v.ID()), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	go func() {
		for i := 0; i < 3; i++ {
			a.ticks <- time.Now()
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var total int64
	for i := 0; i < 3; i++ {
		var ev stream.Event
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, stream.EventMetricsUpdate, ev.Type)
		require.NotNil(t, ev.Snapshot)
		assert.Equal(t, i, ev.Snapshot.Tick)
		total += ev.Snapshot.TickTraffic
		assert.Equal(t, total, ev.Totals.TrafficGenerated)
	}
	assert.Equal(t, int64(300), total)

	var last stream.Event
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, stream.EventStatus, last.Type)
	assert.Equal(t, telemetry.StatusCompleted, last.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamOfFinishedRunEndsImmediately(t *testing.T) {
	a := newTestAPI(t)
	v := a.create(t, `{"pattern":"constant","traffic_volume":10,"duration":5}`)
	code, _ := a.do(t, http.MethodPost, "/simulation/"+v.ID()+"/start", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(t, http.MethodPost, "/simulation/"+v.ID()+"/stop", "")
	require.Equal(t, http.StatusOK, code)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(a, v.ID()), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev stream.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stream.EventStatus, ev.Type)
	assert.Equal(t, telemetry.StatusStopped, ev.Status)
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStreamUnknownRun(t *testing.T) {
	a := newTestAPI(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(a, "sim_missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
