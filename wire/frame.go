// Package wire defines the JSON frames exchanged with the Mini App page over the session
// WebSocket.
package wire

import (
	"context"
	"encoding/json"
	"fmt"
)

// Outbound frame types.
const (
	TypePositionRequest = "position.request"
	TypeWatchStart      = "watch.start"
	TypeWatchStop       = "watch.stop"
	TypeMapInit         = "map.init"
	TypeMarkerAdd       = "marker.add"
	TypeMarkerUpdate    = "marker.update"
	TypeMarkerRemove    = "marker.remove"
	TypeMapCenter       = "map.center"
	TypeMapFit          = "map.fit"
	TypeLineDraw        = "line.draw"
	TypeLineRemove      = "line.remove"
	TypeStatus          = "status"
	TypeRoute           = "route"
	TypeAddress         = "address"
	TypeForm            = "form"
	TypeError           = "error"
)

// Inbound frame types.
const (
	TypePosition      = "position"
	TypePositionError = "position.error"
	TypeAck           = "ack"
	TypeViewport      = "viewport"
	TypeTap           = "tap"
	TypeSelect        = "select"
	TypeVisibility    = "visibility"
	TypeForce         = "force"
	TypePermission    = "permission"
	TypeFormNext      = "form.next"
	TypeFormBack      = "form.back"
	TypeFormSubmit    = "form.submit"
	TypeFormReset     = "form.reset"
	TypeSearch        = "search"
)

// Frame is one WebSocket message. ID pairs requests with their replies.
type Frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds a frame with data marshalled as its payload.
func New(typ, id string, data interface{}) (Frame, error) {
	f := Frame{Type: typ, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s frame: %w", typ, err)
		}
		f.Data = raw
	}
	return f, nil
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Type, err)
	}
	return nil
}

// Sender writes frames to the page.
type Sender interface {
	Send(ctx context.Context, f Frame) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, f Frame) error

func (fn SenderFunc) Send(ctx context.Context, f Frame) error { return fn(ctx, f) }

// Emit builds and sends a frame in one step.
func Emit(ctx context.Context, s Sender, typ, id string, data interface{}) error {
	f, err := New(typ, id, data)
	if err != nil {
		return err
	}
	return s.Send(ctx, f)
}
