package autopilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreap "github.com/kilianp07/trackpilot/core/autopilot"
	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	cs "github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/events"
	"github.com/kilianp07/trackpilot/infra/commandstation"
	"github.com/kilianp07/trackpilot/infra/layout"
	"github.com/kilianp07/trackpilot/infra/logger"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

const loco = "NS_DHG_6505"

// plainStation hides the sensor injection capability of the virtual station.
type plainStation struct{ cs.CommandStation }

type fixture struct {
	pilot   *coreap.AutoPilot
	station *commandstation.VirtualStation
	journal journal.Store
	bus     *eventbus.TypedBus[events.Event]
	handler http.Handler
}

func newFixture(t *testing.T, token string, station cs.CommandStation) *fixture {
	t.Helper()
	f, err := layout.LoadFixture("../../configs/layout.example.yaml")
	require.NoError(t, err)
	store := layout.NewMemoryStore()
	require.NoError(t, layout.Seed(store, f))

	vs := commandstation.NewVirtualStation()
	if station == nil {
		station = vs
	}
	pilot := coreap.New(store, station, coreap.Config{PollIntervalMS: 5}, logger.NopLogger{})
	j, err := journal.NewJSONLStore(filepath.Join(t.TempDir(), "journal.log"))
	require.NoError(t, err)
	bus := eventbus.NewTyped[events.Event]()
	pilot.SetJournal(j)
	pilot.SetEventBus(bus)
	t.Cleanup(func() {
		pilot.ClearDispatchers()
		pilot.Close()
		bus.Close()
		_ = j.Close()
	})
	srv := NewServer(pilot, j, bus, token, logger.NopLogger{})
	return &fixture{pilot: pilot, station: vs, journal: j, bus: bus, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) coreap.Status {
	t.Helper()
	var st coreap.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	return st
}

func TestAutoModeEndpoints(t *testing.T) {
	f := newFixture(t, "", nil)

	rr := f.do(t, http.MethodGet, "/api/autopilot")
	require.Equal(t, http.StatusOK, rr.Code)
	st := decodeStatus(t, rr)
	assert.False(t, st.Automode)
	assert.Empty(t, st.Dispatchers)

	rr = f.do(t, http.MethodPost, "/api/locomotives/"+loco+"/automode/start")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/autopilot/start")
	require.Equal(t, http.StatusOK, rr.Code)
	st = decodeStatus(t, rr)
	assert.True(t, st.Automode)
	require.Len(t, st.Dispatchers, 1)
	assert.Equal(t, loco, st.Dispatchers[0].LocomotiveID)
	assert.Equal(t, "IdleState", st.Dispatchers[0].State)

	rr = f.do(t, http.MethodPost, "/api/locomotives/"+loco+"/automode/start")
	require.Equal(t, http.StatusOK, rr.Code)
	var ds coreap.DispatcherStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ds))
	assert.True(t, ds.Automode)

	rr = f.do(t, http.MethodPost, "/api/locomotives/"+loco+"/automode/stop")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ds))
	assert.False(t, ds.Automode)

	rr = f.do(t, http.MethodPost, "/api/locomotives/"+loco+"/reset")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/autopilot/stop")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeStatus(t, rr).Automode)

	// the dispatcher is kept, but refuses automode while the global switch is off
	rr = f.do(t, http.MethodPost, "/api/locomotives/"+loco+"/automode/start")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/autopilot/start")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestLocomotiveEndpoint(t *testing.T) {
	f := newFixture(t, "", nil)

	rr := f.do(t, http.MethodGet, "/api/locomotives/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/locomotives/"+loco)
	require.Equal(t, http.StatusOK, rr.Code)
	var view LocomotiveView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, loco, view.Locomotive.ID)
	assert.True(t, view.OnTrack)
	assert.Equal(t, "bk-1", view.BlockID)
	assert.Nil(t, view.Dispatcher)

	require.NoError(t, f.pilot.StartAutoMode())
	rr = f.do(t, http.MethodGet, "/api/locomotives/"+loco)
	require.Equal(t, http.StatusOK, rr.Code)
	view = LocomotiveView{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.NotNil(t, view.Dispatcher)
	assert.Equal(t, "IdleState", view.Dispatcher.State)
}

func TestPowerEndpoint(t *testing.T) {
	f := newFixture(t, "", nil)

	rr := f.do(t, http.MethodPost, "/api/power/off")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeStatus(t, rr).Power)
	assert.False(t, f.station.IsPowerOn())

	rr = f.do(t, http.MethodPost, "/api/power/on")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, f.station.IsPowerOn())

	rr = f.do(t, http.MethodPost, "/api/power/maybe")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGhostAndJournalEndpoints(t *testing.T) {
	f := newFixture(t, "", nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/autopilot/start").Code)

	// bk-4 is FREE and nothing is heading there
	rr := f.do(t, http.MethodPost, "/api/sensors/0-0013/activate")
	require.Equal(t, http.StatusNoContent, rr.Code)

	st := decodeStatus(t, f.do(t, http.MethodGet, "/api/autopilot"))
	assert.True(t, st.Ghost)
	assert.False(t, st.Power)

	rr = f.do(t, http.MethodGet, "/api/journal?kind=ghost")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []journal.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "0-0013", recs[0].SensorID)
	assert.Equal(t, "bk-4", recs[0].ToBlockID)

	rr = f.do(t, http.MethodGet, "/api/journal?kind=leg")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/journal?kind=teleport")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/autopilot/ghost/clear")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeStatus(t, rr).Ghost)

	rr = f.do(t, http.MethodPost, "/api/sensors/bogus/activate")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSensorActivationNeedsInjector(t *testing.T) {
	f := newFixture(t, "", plainStation{commandstation.NewVirtualStation()})
	rr := f.do(t, http.MethodPost, "/api/sensors/0-0013/activate")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "tok", nil)

	rr := f.do(t, http.MethodGet, "/api/autopilot")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/autopilot", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestJournalHandlerFilters(t *testing.T) {
	f := newFixture(t, "", nil)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.journal.Append(ctx, journal.Record{Timestamp: now.Add(-time.Hour), Kind: journal.KindLeg, LocomotiveID: loco}))
	require.NoError(t, f.journal.Append(ctx, journal.Record{Timestamp: now, Kind: journal.KindLeg, LocomotiveID: "other"}))

	h := NewJournalHandler(f.journal, "tok")
	req := httptest.NewRequest(http.MethodGet, "/api/journal?locomotive="+loco+"&end="+now.Format(time.RFC3339), nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []journal.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, loco, recs[0].LocomotiveID)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "", nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/autopilot/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.bus.Subscribers() > 0 }, time.Second, 5*time.Millisecond)
	f.bus.Publish(events.StateEvent{LocomotiveID: loco, From: "IdleState", To: "PrepareRouteState", Time: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Kind  string             `json:"kind"`
		Event events.StateEvent `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Kind)
	assert.Equal(t, loco, msg.Event.LocomotiveID)
	assert.Equal(t, "PrepareRouteState", msg.Event.To)
}
