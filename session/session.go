package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zholda/device"
	"zholda/events"
	"zholda/flow"
	"zholda/location"
	"zholda/mapview"
	"zholda/models"
	"zholda/routing"
	"zholda/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	outboxSize = 64
	taskQueue  = 16
	fixBuffer  = 16
)

var (
	errClosed         = errors.New("session: closed")
	errMalformedFrame = errors.New("malformed frame")
)

// Session is one connected Mini App page.
//
// Three goroutines serve it: the read loop dispatches inbound frames, the writer owns the
// connection for writes, and the worker runs the handlers that wait on the network or on
// the page. Handlers that wait on the page must not run on the read loop, which delivers
// the replies.
type Session struct {
	id   int64
	role flow.Role
	conn *websocket.Conn
	cfg  Config
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan wire.Frame
	tasks  chan func()
	fixes  chan models.PositionFix

	mapReady atomic.Bool

	remote  *device.Remote
	tracker *location.Tracker
	socket  *mapview.Socket
	view    *mapview.Adapter
	routes  *routing.Coordinator
	form    *flow.Flow
}

func (m *Manager) open(parent context.Context, conn *websocket.Conn, id int64, role flow.Role) (*Session, error) {
	var sub flow.Submitter = noBackend{}
	if m.cfg.Backend != nil {
		sub = m.cfg.Backend
	}
	form, err := flow.New(role, m.cfg.Lang, sub)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	log := m.cfg.Log.With(zap.Int64("telegram_id", id), zap.String("role", string(role)))
	s := &Session{
		id:     id,
		role:   role,
		conn:   conn,
		cfg:    m.cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan wire.Frame, outboxSize),
		tasks:  make(chan func(), taskQueue),
		fixes:  make(chan models.PositionFix, fixBuffer),
		form:   form,
	}

	policy := m.currentPolicy()
	var geo location.Geolocator
	if m.cfg.Simulate {
		geo = device.NewSimulator(policy.Fallback)
	} else {
		s.remote = device.NewRemote(s, log)
		geo = s.remote
	}
	s.socket = mapview.NewSocket(s)
	s.view = mapview.NewAdapter(s.socket, m.cfg.Map, log)
	s.routes = routing.NewCoordinator(m.cfg.Router, s.view, log)
	s.tracker = location.New(geo,
		location.WithPublisher(location.PublisherFunc(s.publishFix)),
		location.WithLogger(log),
		location.WithPolicy(policy),
	)
	return s, nil
}

// Send queues f for the writer. It implements wire.Sender.
func (s *Session) Send(ctx context.Context, f wire.Frame) error {
	select {
	case s.outbox <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errClosed
	}
}

func (s *Session) emit(typ, id string, data interface{}) {
	if err := wire.Emit(s.ctx, s, typ, id, data); err != nil && !errors.Is(err, errClosed) {
		s.log.Debug("frame not sent", zap.String("type", typ), zap.Error(err))
	}
}

func (s *Session) run() {
	s.log.Info("tracking session started")
	go func() {
		<-s.ctx.Done()
		s.conn.Close()
	}()
	go s.writeLoop()
	go s.workLoop()
	go s.forwardLoop()

	s.enqueue("start", s.start)
	s.readLoop()

	s.cancel()
	s.tracker.Close()
	if s.remote != nil {
		s.remote.Close()
	}
	s.log.Info("tracking session closed")
}

func (s *Session) readLoop() {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debug("malformed frame", zap.Error(err))
			s.emit(wire.TypeError, "", errorPayload{Message: errMalformedFrame.Error()})
			continue
		}
		s.dispatch(f)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.log.Warn("websocket write failed", zap.Error(err))
				s.cancel()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Warn("websocket ping failed", zap.Error(err))
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) workLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.tasks:
			fn()
		}
	}
}

// enqueue hands fn to the worker. The read loop never blocks on a busy worker.
func (s *Session) enqueue(name string, fn func()) {
	select {
	case s.tasks <- fn:
	default:
		s.log.Warn("session busy, frame dropped", zap.String("frame", name))
	}
}

// publishFix runs under the tracker lock for every accepted fix.
func (s *Session) publishFix(fix models.PositionFix) {
	if s.mapReady.Load() {
		s.view.PublishFix(fix)
	}
	select {
	case s.fixes <- fix:
	default:
		s.log.Debug("fix forwarding behind, fix dropped")
	}
}

// forwardLoop reports accepted fixes to the page and, for drivers, to the driver index
// and the event stream.
func (s *Session) forwardLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case fix := <-s.fixes:
			s.emit(wire.TypeStatus, "", s.tracker.Status())
			if s.role == flow.RoleDriver {
				s.shareDriverFix(fix)
			}
		}
	}
}

func (s *Session) shareDriverFix(fix models.PositionFix) {
	c := fix.Coordinate()
	if s.cfg.Drivers != nil {
		if err := s.cfg.Drivers.Index(s.ctx, s.id, c); err != nil {
			s.log.Warn("driver position not indexed", zap.Error(err))
		}
	}
	err := s.cfg.Events.Publish(s.ctx, events.Event{
		Type: events.DriverLocation,
		Key:  strconv.FormatInt(s.id, 10),
		Data: fix,
	})
	if err != nil {
		s.log.Warn("driver location event not published", zap.Error(err))
	}
}

// start asks the page for permission, then builds the map at the fix or at the fallback.
func (s *Session) start() {
	_, permErr := s.tracker.RequestPermission(s.ctx)
	if err := s.view.Init(s.ctx, s.tracker.Location()); err != nil {
		s.log.Warn("map not initialized", zap.Error(err))
	}
	s.mapReady.Store(true)

	if permErr != nil {
		s.emit(wire.TypeError, "", errorPayload{
			Message: permErr.Error(),
			Reason:  string(location.Classify(permErr)),
		})
	} else if st := s.tracker.Status(); st.Fix != nil {
		// The loops may have accepted a newer fix while the map was not ready.
		s.view.PublishFix(*st.Fix)
	}
	s.emit(wire.TypeStatus, "", s.tracker.Status())

	state := s.formState("")
	if s.role == flow.RoleClient && s.cfg.Backend != nil {
		exists, accepted, err := s.cfg.Backend.CheckClient(s.ctx, s.id)
		if err != nil {
			s.log.Warn("client check failed", zap.Error(err))
		}
		state.Registered = &exists
		state.OffertaAccepted = &accepted
	}
	s.emit(wire.TypeForm, "", state)
}

type noBackend struct{}

func (noBackend) Submit(context.Context, flow.Submission) error { return errNoBackend }
