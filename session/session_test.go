package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zholda/backend"
	"zholda/events"
	"zholda/flow"
	"zholda/location"
	"zholda/models"
	"zholda/wire"
)

var almaty = models.Coordinate{Lon: 76.889709, Lat: 43.238949}

type fakeBackend struct {
	mu        sync.Mutex
	submitted []flow.Submission
	searches  []backend.SearchQuery
}

func (b *fakeBackend) Submit(_ context.Context, s flow.Submission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, s)
	return nil
}

func (b *fakeBackend) CheckClient(context.Context, int64) (bool, bool, error) {
	return true, true, nil
}

func (b *fakeBackend) MatchDrivers(context.Context, models.Coordinate, models.Coordinate) ([]models.MatchedDriver, error) {
	return []models.MatchedDriver{{TelegramID: 7, FullName: "Асхат", DistanceKm: 0.8}}, nil
}

func (b *fakeBackend) SearchRequests(_ context.Context, sq backend.SearchQuery) ([]models.ClientRequest, error) {
	b.mu.Lock()
	b.searches = append(b.searches, sq)
	b.mu.Unlock()
	return []models.ClientRequest{{ID: 1, FromAddress: "Алматы"}}, nil
}

func (b *fakeBackend) Submissions() []flow.Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]flow.Submission(nil), b.submitted...)
}

type fakeGeocoder struct{}

func (fakeGeocoder) Reverse(context.Context, models.Coordinate) (string, error) {
	return "Абая 10", nil
}

func (fakeGeocoder) Forward(_ context.Context, q string) (models.Coordinate, error) {
	if q == "nowhere" {
		return models.Coordinate{}, errors.New("no result")
	}
	return models.Coordinate{Lon: 76.95, Lat: 43.2}, nil
}

type fakeIndex struct {
	got chan models.Coordinate
}

func (i *fakeIndex) Index(_ context.Context, _ int64, c models.Coordinate) error {
	select {
	case i.got <- c:
	default:
	}
	return nil
}

type fakeEvents struct {
	got chan events.Event
}

func (e *fakeEvents) Publish(_ context.Context, ev events.Event) error {
	select {
	case e.got <- ev:
	default:
	}
	return nil
}

func (e *fakeEvents) Close() error { return nil }

// page plays the Mini App: it answers position requests and collects every other frame.
type page struct {
	t    *testing.T
	conn *websocket.Conn
	// fix answers position requests and watches; nil denies them. A set next replaces
	// fix after the first answered request.
	fix    atomic.Pointer[models.PositionFix]
	next   atomic.Pointer[models.PositionFix]
	frames chan wire.Frame

	mu sync.Mutex
}

func testConfig() Config {
	p := location.DefaultPolicy()
	p.Initial.Timeout = 2 * time.Second
	p.PollInterval = 50 * time.Millisecond
	return Config{Policy: p}
}

func serve(t *testing.T, m *Manager, role string) string {
	t.Helper()
	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Serve(context.Background(), conn, 42, role)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openPage(t *testing.T, url string, fix *models.PositionFix) *page {
	t.Helper()
	return openMovingPage(t, url, fix, nil)
}

// openMovingPage answers the first position request with fix and every later one with next.
func openMovingPage(t *testing.T, url string, fix, next *models.PositionFix) *page {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := &page{t: t, conn: conn, frames: make(chan wire.Frame, 256)}
	p.fix.Store(fix)
	p.next.Store(next)
	t.Cleanup(func() { conn.Close() })
	go p.read()
	return p
}

func (p *page) read() {
	for {
		var f wire.Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			close(p.frames)
			return
		}
		switch f.Type {
		case wire.TypePositionRequest:
			fix := p.fix.Load()
			if fix == nil {
				p.send(wire.TypePositionError, f.ID, map[string]interface{}{"code": 1, "message": "User denied Geolocation"})
				continue
			}
			p.send(wire.TypePosition, f.ID, fix)
			if next := p.next.Swap(nil); next != nil {
				p.fix.Store(next)
			}
		case wire.TypeWatchStart:
			if fix := p.fix.Load(); fix != nil {
				p.send(wire.TypePosition, f.ID, fix)
			}
		case wire.TypeWatchStop:
		default:
			select {
			case p.frames <- f:
			default:
			}
		}
	}
}

func (p *page) send(typ, id string, data interface{}) {
	f, err := wire.New(typ, id, data)
	if err != nil {
		p.t.Error(err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.WriteJSON(f)
}

func (p *page) sendRaw(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

// expect returns the next frame of type typ, skipping the others.
func (p *page) expect(typ string) wire.Frame {
	p.t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-p.frames:
			if !ok {
				p.t.Fatalf("connection closed waiting for %s", typ)
			}
			if f.Type == typ {
				return f
			}
		case <-timeout:
			p.t.Fatalf("no %s frame", typ)
		}
	}
}

func decodeData(t *testing.T, f wire.Frame, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s: %v", f.Type, err)
	}
}

func TestDriverSessionSharesFixes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	idx := &fakeIndex{got: make(chan models.Coordinate, 8)}
	ev := &fakeEvents{got: make(chan events.Event, 8)}
	cfg.Drivers, cfg.Events = idx, ev
	m := NewManager(cfg)

	fix := &models.PositionFix{Longitude: 76.9, Latitude: 43.25, AccuracyMeters: 5, CapturedAt: time.Now().UnixMilli()}
	p := openPage(t, serve(t, m, "driver"), fix)

	var init struct {
		Center models.Coordinate `json:"center"`
	}
	decodeData(t, p.expect(wire.TypeMapInit), &init)
	if init.Center != fix.Coordinate() {
		t.Errorf("map centered at %v, want the fix", init.Center)
	}
	if f := p.expect(wire.TypeMarkerAdd); f.ID != "user" {
		t.Errorf("first marker %q, want user", f.ID)
	}
	var status location.Snapshot
	decodeData(t, p.expect(wire.TypeStatus), &status)
	if !status.HasPermission || status.Quality != location.QualityGood {
		t.Errorf("status = %+v", status)
	}

	select {
	case c := <-idx.got:
		if c != fix.Coordinate() {
			t.Errorf("indexed %v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("driver position not indexed")
	}
	select {
	case e := <-ev.got:
		if e.Type != events.DriverLocation || e.Key != "42" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("driver location not published")
	}
}

func TestSessionFallsBackWhenDenied(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	p := openPage(t, serve(t, m, "client"), nil)

	var init struct {
		Center models.Coordinate `json:"center"`
	}
	decodeData(t, p.expect(wire.TypeMapInit), &init)
	if init.Center != almaty {
		t.Errorf("map centered at %v, want fallback", init.Center)
	}
	var e errorPayload
	decodeData(t, p.expect(wire.TypeError), &e)
	if e.Reason != string(location.ReasonDenied) {
		t.Errorf("error = %+v", e)
	}
	var status location.Snapshot
	decodeData(t, p.expect(wire.TypeStatus), &status)
	if status.HasPermission || status.Location != almaty {
		t.Errorf("status = %+v", status)
	}

	p.send(wire.TypeForce, "f1", nil)
	decodeData(t, p.expect(wire.TypeError), &e)
	if !strings.Contains(e.Message, "permission not granted") {
		t.Errorf("force without permission = %+v", e)
	}
}

// formFrame decodes the next form frame into a fresh payload.
func formFrame(t *testing.T, p *page) formStatePayload {
	t.Helper()
	var state formStatePayload
	decodeData(t, p.expect(wire.TypeForm), &state)
	return state
}

func TestClientSessionRouteAndSubmit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	be := &fakeBackend{}
	cfg.Backend, cfg.Geocoder = be, fakeGeocoder{}
	m := NewManager(cfg)
	p := openPage(t, serve(t, m, "client"), nil)

	state := formFrame(t, p)
	if state.Step != "collecting" || state.Registered == nil || !*state.Registered {
		t.Fatalf("initial form = %+v", state)
	}

	p.send(wire.TypeSelect, "", selectPayload{Role: models.RoleFrom})
	p.send(wire.TypeTap, "t1", tapPayload{Coordinate: almaty})
	var point models.RoutePoint
	decodeData(t, p.expect(wire.TypeAddress), &point)
	if point.Role != models.RoleFrom || point.Address != "Абая 10" {
		t.Errorf("from point = %+v", point)
	}

	p.send(wire.TypeSearch, "s1", searchPayload{Query: "Сатпаева 5", Role: models.RoleTo})
	decodeData(t, p.expect(wire.TypeAddress), &point)
	if point.Role != models.RoleTo || point.Address != "Сатпаева 5" {
		t.Errorf("to point = %+v", point)
	}
	var route routePayload
	decodeData(t, p.expect(wire.TypeRoute), &route)
	if !route.Straight || route.DistanceKm <= 0 || !strings.HasSuffix(route.Label, " км") {
		t.Errorf("route = %+v", route)
	}

	p.send(wire.TypeFormNext, "n1", formPayload{Price: 1500, TruckType: "small", Contact: "+77011234567"})
	var e errorPayload
	decodeData(t, p.expect(wire.TypeError), &e)
	if e.Message != "Минимальная цена 2000 ₸" {
		t.Errorf("validation message = %q", e.Message)
	}

	p.send(wire.TypeFormNext, "n2", formPayload{Price: 5000, TruckType: "small", Contact: "+77011234567"})
	state = formFrame(t, p)
	if state.Step != "preview" || state.Form.FromAddress != "Абая 10" || state.Form.TelegramID != 42 {
		t.Fatalf("preview = %+v", state)
	}

	p.send(wire.TypeFormSubmit, "x1", nil)
	state = formFrame(t, p)
	if state.Step != "submitted" || state.Message != "Заявка создана!" {
		t.Errorf("submitted = %+v", state)
	}
	subs := be.Submissions()
	if len(subs) != 1 || subs[0].Endpoint != "/api/client/request" || subs[0].Route.To.Address != "Сатпаева 5" {
		t.Errorf("submissions = %+v", subs)
	}

	p.send(wire.TypeSearch, "s2", nil)
	var found searchResultPayload
	decodeData(t, p.expect(wire.TypeSearch), &found)
	if found.Count != 1 || found.Drivers[0].FullName != "Асхат" {
		t.Errorf("matches = %+v", found)
	}

	p.send(wire.TypeFormReset, "r1", nil)
	state = formFrame(t, p)
	if state.Step != "collecting" || state.Route.From != nil {
		t.Errorf("reset = %+v", state)
	}
}

func TestDriverSearchUsesPosition(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	be := &fakeBackend{}
	cfg.Backend = be
	m := NewManager(cfg)
	p := openPage(t, serve(t, m, "driver"), nil)
	p.expect(wire.TypeForm)

	p.send(wire.TypeSearch, "s1", searchPayload{Radius: 20})
	var found searchResultPayload
	decodeData(t, p.expect(wire.TypeSearch), &found)
	if found.Count != 1 {
		t.Fatalf("requests = %+v", found)
	}
	be.mu.Lock()
	defer be.mu.Unlock()
	sq := be.searches[0]
	if sq.Type != "geolocation" || sq.RadiusKm != 20 || *sq.Location != almaty || sq.TelegramID != 42 {
		t.Errorf("query = %+v", sq)
	}
}

func TestManagerTracksSessions(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	p := openPage(t, serve(t, m, "client"), nil)
	p.expect(wire.TypeStatus)
	if n := m.Active(); n != 1 {
		t.Fatalf("active = %d", n)
	}

	policy := location.DefaultPolicy()
	policy.MinMovementMeters = 25
	m.SetPolicy(policy)
	if got := m.currentPolicy().MinMovementMeters; got != 25 {
		t.Errorf("policy not stored: %v", got)
	}

	p.conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for m.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	conn, _, err := websocket.DefaultDialer.Dial(serve(t, m, "admin"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("session served an unknown role")
	}
}

func TestPermissionRetryAfterDenial(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	p := openPage(t, serve(t, m, "driver"), nil)

	var e errorPayload
	decodeData(t, p.expect(wire.TypeError), &e)
	if e.Reason != string(location.ReasonDenied) {
		t.Fatalf("error = %+v", e)
	}

	fix := &models.PositionFix{Longitude: 76.9, Latitude: 43.25, AccuracyMeters: 8, CapturedAt: time.Now().UnixMilli()}
	p.fix.Store(fix)
	p.send(wire.TypePermission, "p1", nil)

	var marker struct {
		Coordinate models.Coordinate `json:"coordinate"`
	}
	f := p.expect(wire.TypeMarkerAdd)
	decodeData(t, f, &marker)
	if f.ID != "user" || marker.Coordinate != fix.Coordinate() {
		t.Errorf("marker %q at %v, want user at the fix", f.ID, marker.Coordinate)
	}
	for {
		var status location.Snapshot
		f := p.expect(wire.TypeStatus)
		decodeData(t, f, &status)
		if f.ID != "p1" {
			continue
		}
		if !status.HasPermission || !status.IsTracking || status.Location != fix.Coordinate() {
			t.Errorf("status after retry = %+v", status)
		}
		break
	}

	p.send(wire.TypeForce, "f1", nil)
	for {
		f := p.expect(wire.TypeStatus)
		if f.ID == "f1" {
			break
		}
	}
}

func TestMapShowsLatestFixAfterStart(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	first := &models.PositionFix{Longitude: 76.9, Latitude: 43.25, AccuracyMeters: 10, CapturedAt: time.Now().UnixMilli()}
	moved := &models.PositionFix{Longitude: 76.906, Latitude: 43.25, AccuracyMeters: 5, CapturedAt: time.Now().UnixMilli()}

	p := openMovingPage(t, serve(t, m, "driver"), first, moved)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("moved fix never accepted")
		}
		var status location.Snapshot
		decodeData(t, p.expect(wire.TypeStatus), &status)
		if status.Fix != nil && status.Location == moved.Coordinate() {
			break
		}
	}

	var last models.Coordinate
	quiet := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case f, ok := <-p.frames:
			if !ok {
				t.Fatal("connection closed")
			}
			if f.ID == "user" && (f.Type == wire.TypeMarkerAdd || f.Type == wire.TypeMarkerUpdate) {
				var cmd struct {
					Coordinate models.Coordinate `json:"coordinate"`
				}
				decodeData(t, f, &cmd)
				last = cmd.Coordinate
			}
		case <-quiet:
			done = true
		}
	}
	if last != (models.Coordinate{}) && last != moved.Coordinate() {
		t.Errorf("user marker left at %v, want the latest fix %v", last, moved.Coordinate())
	}
}

func TestMalformedFrameKeepsSession(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	p := openPage(t, serve(t, m, "client"), nil)
	p.expect(wire.TypeForm)

	for _, raw := range []string{"{not json", `{"type":5}`} {
		p.sendRaw(raw)
		var e errorPayload
		decodeData(t, p.expect(wire.TypeError), &e)
		if e.Message != "malformed frame" {
			t.Errorf("%s: error = %+v", raw, e)
		}
	}

	p.send(wire.TypeForce, "f1", nil)
	var e errorPayload
	decodeData(t, p.expect(wire.TypeError), &e)
	if !strings.Contains(e.Message, "permission not granted") {
		t.Errorf("force after malformed frames = %+v", e)
	}
}
