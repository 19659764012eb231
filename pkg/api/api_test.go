package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/trail"
)

type fakeEgress struct {
	answer string
	err    error
}

func (f *fakeEgress) HandleOffer(context.Context, string) (string, error) { return f.answer, f.err }

type fakeUI struct{ served bool }

func (f *fakeUI) ServeWS(w http.ResponseWriter, r *http.Request) { f.served = true }

type fakeRecorder struct {
	active  bool
	startCt int
	stopErr error
}

func (f *fakeRecorder) Start()                         { f.active = true; f.startCt++ }
func (f *fakeRecorder) Stop(context.Context) error      { f.active = false; return f.stopErr }
func (f *fakeRecorder) Active() bool                    { return f.active }

type fakeStore struct {
	objects   []trail.ObjectSummary
	deletedID string
	err       error
}

func (f *fakeStore) ListObjects(context.Context) ([]trail.ObjectSummary, error) {
	return f.objects, f.err
}
func (f *fakeStore) DeleteObject(_ context.Context, id string) error {
	f.deletedID = id
	return f.err
}

type fakeCommander struct {
	lastEnvelope map[string]any
	err          error
}

func (f *fakeCommander) Send(envelope map[string]any) error {
	f.lastEnvelope = envelope
	return f.err
}

func newTestServer() (*Server, *fakeEgress, *fakeUI, *fakeRecorder, *fakeStore, *fakeCommander) {
	log, _ := logger.New(logger.NewConfig())
	eg := &fakeEgress{answer: "v=0 sdp answer"}
	ui := &fakeUI{}
	rec := &fakeRecorder{}
	store := &fakeStore{}
	cmd := &fakeCommander{}
	return NewServer(eg, ui, rec, store, cmd, log), eg, ui, rec, store, cmd
}

func TestHandleObjectsReturnsStoreSummaries(t *testing.T) {
	srv, _, _, _, store, _ := newTestServer()
	store.objects = []trail.ObjectSummary{{ObjectID: "a", Classification: "person"}}

	req := httptest.NewRequest(http.MethodGet, "/objects", nil)
	rec := httptest.NewRecorder()
	srv.handleObjects(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []trail.ObjectSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ObjectID)
}

func TestHandleObjectsRejectsNonGET(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/objects", nil)
	rec := httptest.NewRecorder()
	srv.handleObjects(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleDeleteObjectUsesPathSuffixAsID(t *testing.T) {
	srv, _, _, _, store, _ := newTestServer()
	req := httptest.NewRequest(http.MethodDelete, "/delete/object/abc-123", nil)
	rec := httptest.NewRecorder()
	srv.handleDeleteObject(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", store.deletedID)
}

func TestHandleDeleteObjectRejectsMissingID(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodDelete, "/delete/object/", nil)
	rec := httptest.NewRecorder()
	srv.handleDeleteObject(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecordingStartsAndStopsRecorder(t *testing.T) {
	srv, _, _, rec, _, _ := newTestServer()

	body, _ := json.Marshal(map[string]any{"active": true})
	req := httptest.NewRequest(http.MethodPost, "/recording", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleRecording(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rec.startCt)
	assert.True(t, rec.Active())

	body, _ = json.Marshal(map[string]any{"active": false})
	req = httptest.NewRequest(http.MethodPost, "/recording", bytes.NewReader(body))
	w = httptest.NewRecorder()
	srv.handleRecording(w, req)
	assert.False(t, rec.Active())
}

func TestHandleSetFlightModeForwardsToCommander(t *testing.T) {
	srv, _, _, _, _, cmd := newTestServer()
	body, _ := json.Marshal(map[string]any{"mode": "GUIDED"})
	req := httptest.NewRequest(http.MethodPost, "/setFlightMode", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleSetFlightMode(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GUIDED", cmd.lastEnvelope["mode"])
	assert.Equal(t, "set_flight_mode", cmd.lastEnvelope["command"])
}

func TestHandleSetFlightModeRejectsMissingMode(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/setFlightMode", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleSetFlightMode(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSetFollowDistanceRequiresDistanceField(t *testing.T) {
	srv, _, _, _, _, cmd := newTestServer()
	body, _ := json.Marshal(map[string]any{"distance": 12.5})
	req := httptest.NewRequest(http.MethodPost, "/setFollowDistance", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleSetFollowDistance(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.5, cmd.lastEnvelope["distance"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/setFollowDistance", bytes.NewReader([]byte(`{}`)))
	srv.handleSetFollowDistance(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStopFollowingSendsCommand(t *testing.T) {
	srv, _, _, _, _, cmd := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/stopFollowing", nil)
	w := httptest.NewRecorder()
	srv.handleStopFollowing(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stop_following", cmd.lastEnvelope["command"])
}

func TestHandleOfferReturnsSDPAnswer(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	body, _ := json.Marshal(map[string]any{"sdp": "v=0 offer"})
	req := httptest.NewRequest(http.MethodPost, "/offer", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleOffer(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "v=0 sdp answer", resp["sdp"])
}

func TestHandleOfferRejectsMissingSDP(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/offer", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.handleOffer(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWithCORSHandlesPreflightWithoutInvokingNext(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()
	called := false
	h := srv.withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/objects", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
