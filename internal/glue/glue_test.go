package glue

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/waterwheel/waterwheel/internal/dispatch"
	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/metrics"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/waterwheel"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestGlue(t *testing.T) *Glue {
	t.Helper()
	po := postoffice.New()
	d := dispatch.New(nil, nil, metrics.NewRegistry(prometheus.NewRegistry()), logger.Default())
	return New(po, nil, d, logger.Default())
}

func TestHandleTriggerUpdate_NotifiesPostOffice(t *testing.T) {
	g := newTestGlue(t)
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/int-api/trigger-update/"+id.String(), nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case got := <-g.PostOffice.TriggerUpdate:
		require.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("expected a TriggerUpdate notification")
	}
}

func TestHandleTriggerUpdate_RejectsMalformedUUID(t *testing.T) {
	g := newTestGlue(t)
	req := httptest.NewRequest(http.MethodPost, "/int-api/trigger-update/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHeartbeat_StoresAndListsWorker(t *testing.T) {
	g := newTestGlue(t)
	hb := waterwheel.Heartbeat{UUID: uuid.New(), Addr: "10.0.0.1:9000", RunningTasks: 2, TotalTasks: 10}
	body, err := json.Marshal(hb)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/int-api/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/int-api/workers", nil)
	listRec := httptest.NewRecorder()
	g.Router().ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var workers []waterwheel.Heartbeat
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	require.Equal(t, hb.UUID, workers[0].UUID)
}

func TestHandleActivate_PostsProcessActivate(t *testing.T) {
	g := newTestGlue(t)
	taskID := uuid.New()
	dt := time.Now().UTC().Truncate(time.Second)

	req := httptest.NewRequest(http.MethodPost,
		"/int-api/tokens/"+taskID.String()+"/"+dt.Format(time.RFC3339)+"/activate", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case msg := <-g.PostOffice.ProcessToken:
		require.Equal(t, waterwheel.ProcessActivate, msg.Kind)
		require.Equal(t, taskID, msg.TaskID)
		require.True(t, dt.Equal(msg.TriggerDatetime))
	case <-time.After(time.Second):
		t.Fatal("expected a ProcessToken::Activate message")
	}
}

func TestHandleGetTask_NotFoundWhenUnknown(t *testing.T) {
	g := newTestGlue(t)
	req := httptest.NewRequest(http.MethodGet, "/int-api/tasks/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
