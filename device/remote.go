// Package device provides Geolocator implementations: Remote, which proxies the Mini App
// page over the session WebSocket, and Simulator, which fakes movement for demos.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zholda/location"
	"zholda/models"
	"zholda/wire"
)

// Browser geolocation error codes.
const (
	codeUnsupported = 0
	codeDenied      = 1
	codeUnavailable = 2
	codeTimeout     = 3
)

// watchBuffer is how many fixes a slow watch consumer may fall behind before fixes are dropped.
const watchBuffer = 8

type positionRequest struct {
	HighAccuracy bool  `json:"enableHighAccuracy"`
	TimeoutMs    int64 `json:"timeout"`
	MaximumAgeMs int64 `json:"maximumAge"`
}

// PositionError is the payload of a position.error frame.
type PositionError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Err maps the browser error code to a location error.
func (e PositionError) Err() error {
	switch e.Code {
	case codeUnsupported:
		return location.ErrUnsupported
	case codeDenied:
		return location.ErrPermissionDenied
	case codeTimeout:
		return location.ErrTimeout
	default:
		return location.ErrPositionUnavailable
	}
}

type reply struct {
	fix models.PositionFix
	err error
}

// Remote is a Geolocator whose readings come from the page. Requests go out through the
// Sender; replies are fed back with Deliver.
type Remote struct {
	out wire.Sender
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]chan reply
	watches map[string]chan location.Reading
}

// NewRemote creates a Remote that writes requests to out.
func NewRemote(out wire.Sender, log *zap.Logger) *Remote {
	if log == nil {
		log = zap.NewNop()
	}
	return &Remote{
		out:     out,
		log:     log,
		pending: make(map[string]chan reply),
		watches: make(map[string]chan location.Reading),
	}
}

func toRequest(opts location.PositionOptions) positionRequest {
	return positionRequest{
		HighAccuracy: opts.HighAccuracy,
		TimeoutMs:    opts.Timeout.Milliseconds(),
		MaximumAgeMs: opts.MaximumAge.Milliseconds(),
	}
}

// CurrentPosition asks the page for one fix and waits for the reply or ctx.
func (r *Remote) CurrentPosition(ctx context.Context, opts location.PositionOptions) (models.PositionFix, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := wire.Emit(ctx, r.out, wire.TypePositionRequest, id, toRequest(opts)); err != nil {
		return models.PositionFix{}, err
	}

	select {
	case <-ctx.Done():
		return models.PositionFix{}, ctx.Err()
	case rep := <-ch:
		return rep.fix, rep.err
	}
}

// Watch starts a watch on the page. The returned channel is closed when ctx is done.
func (r *Remote) Watch(ctx context.Context, opts location.PositionOptions) (<-chan location.Reading, error) {
	id := uuid.NewString()
	ch := make(chan location.Reading, watchBuffer)

	r.mu.Lock()
	r.watches[id] = ch
	r.mu.Unlock()

	if err := wire.Emit(ctx, r.out, wire.TypeWatchStart, id, toRequest(opts)); err != nil {
		r.closeWatch(id)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		r.closeWatch(id)
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := wire.Emit(stopCtx, r.out, wire.TypeWatchStop, id, nil); err != nil {
			r.log.Debug("watch stop not delivered", zap.String("watch_id", id), zap.Error(err))
		}
	}()
	return ch, nil
}

func (r *Remote) closeWatch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.watches[id]; ok {
		delete(r.watches, id)
		close(ch)
	}
}

// Deliver routes a position or position.error frame to the request or watch it answers.
// It reports whether the frame was consumed. Frames for unknown ids are dropped.
func (r *Remote) Deliver(f wire.Frame) bool {
	var rep reply
	switch f.Type {
	case wire.TypePosition:
		if err := f.Decode(&rep.fix); err != nil {
			rep.err = location.ErrPositionUnavailable
		}
	case wire.TypePositionError:
		var pe PositionError
		if err := f.Decode(&pe); err != nil {
			pe.Code = codeUnavailable
		}
		rep.err = pe.Err()
	default:
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.pending[f.ID]; ok {
		delete(r.pending, f.ID)
		ch <- rep
		return true
	}
	if ch, ok := r.watches[f.ID]; ok {
		select {
		case ch <- location.Reading{Fix: rep.fix, Err: rep.err}:
		default:
			r.log.Debug("watch consumer behind, reading dropped", zap.String("watch_id", f.ID))
		}
		return true
	}
	r.log.Debug("reply for unknown request", zap.String("type", f.Type), zap.String("id", f.ID))
	return true
}

// Close ends every open watch.
func (r *Remote) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.watches {
		delete(r.watches, id)
		close(ch)
	}
}
