package session

import (
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"zholda/backend"
	"zholda/flow"
	"zholda/geocoding"
	"zholda/location"
	"zholda/models"
	"zholda/wire"
)

type errorPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

type selectPayload struct {
	Role models.Role `json:"role"`
}

type tapPayload struct {
	Coordinate models.Coordinate `json:"coordinate"`
	Role       models.Role       `json:"role,omitempty"`
}

type visibilityPayload struct {
	Visible bool `json:"visible"`
}

type searchPayload struct {
	Query  string      `json:"query,omitempty"`
	Role   models.Role `json:"role,omitempty"`
	Radius float64     `json:"radius,omitempty"`
}

type photoPayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type formPayload struct {
	FromAddress   string        `json:"from_address"`
	ToAddress     string        `json:"to_address"`
	Price         int           `json:"price"`
	TruckType     string        `json:"truck_type"`
	Comment       string        `json:"comment"`
	Contact       string        `json:"contact"`
	DepartureTime string        `json:"departure_time"`
	Photo         *photoPayload `json:"photo,omitempty"`
}

type formStatePayload struct {
	Step            string                `json:"step"`
	Form            flow.Form             `json:"form"`
	Route           models.RouteSelection `json:"route"`
	Message         string                `json:"message,omitempty"`
	Registered      *bool                 `json:"registered,omitempty"`
	OffertaAccepted *bool                 `json:"offerta_accepted,omitempty"`
}

type routePayload struct {
	Line       orb.LineString `json:"line"`
	DistanceKm float64        `json:"distance_km"`
	Label      string         `json:"label"`
	Straight   bool           `json:"straight"`
}

type searchResultPayload struct {
	Drivers  []models.MatchedDriver `json:"drivers,omitempty"`
	Requests []models.ClientRequest `json:"requests,omitempty"`
	Count    int                    `json:"count"`
}

func (s *Session) dispatch(f wire.Frame) {
	switch f.Type {
	case wire.TypePosition, wire.TypePositionError:
		if s.remote != nil {
			s.remote.Deliver(f)
		}
	case wire.TypeAck:
	case wire.TypeViewport:
		if err := s.socket.HandleViewport(f); err != nil {
			s.log.Debug("bad viewport frame", zap.Error(err))
		}
	case wire.TypeSelect:
		var p selectPayload
		if err := f.Decode(&p); err != nil {
			s.fail(f.ID, err)
			return
		}
		if p.Role == "" {
			s.view.EndSelection()
			return
		}
		if !p.Role.Valid() {
			s.fail(f.ID, flowSelectPoints(s.form))
			return
		}
		s.view.BeginSelection(p.Role)
	case wire.TypeTap:
		var p tapPayload
		if err := f.Decode(&p); err != nil {
			s.fail(f.ID, err)
			return
		}
		s.enqueue(f.Type, func() { s.tap(f.ID, p) })
	case wire.TypeVisibility:
		var p visibilityPayload
		if err := f.Decode(&p); err != nil {
			s.fail(f.ID, err)
			return
		}
		s.enqueue(f.Type, func() { s.tracker.SetVisible(s.ctx, p.Visible) })
	case wire.TypeForce:
		s.enqueue(f.Type, func() { s.force(f.ID) })
	case wire.TypePermission:
		s.enqueue(f.Type, func() { s.requestPermission(f.ID) })
	case wire.TypeFormNext:
		var p formPayload
		if err := f.Decode(&p); err != nil {
			s.fail(f.ID, err)
			return
		}
		s.enqueue(f.Type, func() { s.next(f.ID, p) })
	case wire.TypeFormBack:
		s.enqueue(f.Type, func() {
			if err := s.form.Back(); err != nil {
				s.fail(f.ID, err)
				return
			}
			s.emit(wire.TypeForm, f.ID, s.formState(""))
		})
	case wire.TypeFormSubmit:
		s.enqueue(f.Type, func() { s.submit(f.ID) })
	case wire.TypeFormReset:
		s.enqueue(f.Type, func() {
			s.form.Reset()
			s.view.ClearPoints(s.ctx)
			s.emit(wire.TypeForm, f.ID, s.formState(""))
		})
	case wire.TypeSearch:
		var p searchPayload
		if len(f.Data) > 0 {
			if err := f.Decode(&p); err != nil {
				s.fail(f.ID, err)
				return
			}
		}
		s.enqueue(f.Type, func() { s.search(f.ID, p) })
	default:
		s.log.Debug("unknown frame", zap.String("type", f.Type))
	}
}

func (s *Session) fail(id string, err error) {
	s.emit(wire.TypeError, id, errorPayload{Message: s.form.UserMessage(err)})
}

func (s *Session) formState(message string) formStatePayload {
	return formStatePayload{
		Step:    s.form.Step().String(),
		Form:    s.form.Form(),
		Route:   s.form.Route(),
		Message: message,
	}
}

// tap places the point being selected, or the one named in the frame.
func (s *Session) tap(id string, p tapPayload) {
	role := p.Role
	if role == "" {
		role = s.view.Selecting()
	}
	if role == "" {
		return
	}
	s.placePoint(id, role, p.Coordinate, "")
}

func (s *Session) placePoint(id string, role models.Role, c models.Coordinate, address string) {
	if !c.Valid() {
		s.fail(id, models.ErrInvalidCoordinate)
		return
	}
	if err := s.view.PlacePoint(s.ctx, role, c); err != nil {
		s.log.Warn("route point marker not placed", zap.String("point", string(role)), zap.Error(err))
	}
	if address == "" {
		address = geocoding.AddressFor(s.ctx, s.cfg.Geocoder, c, s.log)
	}
	point := models.RoutePoint{Role: role, Coordinate: c, Address: address}
	if err := s.form.PlacePoint(point); err != nil {
		s.fail(id, err)
		return
	}
	s.view.EndSelection()
	s.emit(wire.TypeAddress, id, point)

	sel := s.form.Route()
	if !sel.Complete() {
		return
	}
	r, err := s.routes.Update(s.ctx, sel.From.Coordinate, sel.To.Coordinate)
	if err != nil {
		s.log.Warn("route not rendered", zap.Error(err))
	}
	s.emit(wire.TypeRoute, id, routePayload{
		Line:       r.Line,
		DistanceKm: r.DisplayDistance(),
		Label:      r.Label(),
		Straight:   r.Straight,
	})
}

// requestPermission asks the page for location access again, typically after a denial.
// On success the tracker starts and the fix reaches the map through the publisher.
func (s *Session) requestPermission(id string) {
	if _, err := s.tracker.RequestPermission(s.ctx); err != nil {
		s.emit(wire.TypeError, id, errorPayload{Message: err.Error(), Reason: string(location.Classify(err))})
	}
	s.emit(wire.TypeStatus, id, s.tracker.Status())
}

func (s *Session) force(id string) {
	if err := s.tracker.ForceUpdate(s.ctx); err != nil {
		s.emit(wire.TypeError, id, errorPayload{Message: err.Error(), Reason: string(location.Classify(err))})
		return
	}
	s.emit(wire.TypeStatus, id, s.tracker.Status())
}

func (s *Session) next(id string, p formPayload) {
	form := flow.Form{
		TelegramID:  s.id,
		FromAddress: strings.TrimSpace(p.FromAddress),
		ToAddress:   strings.TrimSpace(p.ToAddress),
		Price:       p.Price,
		TruckType:   p.TruckType,
		Comment:     p.Comment,
		Contact:     p.Contact,
	}
	if p.DepartureTime != "" {
		if t, err := time.Parse(models.DepartureLayout, p.DepartureTime); err == nil {
			form.DepartureTime = t
		}
	}
	if p.Photo != nil && len(p.Photo.Data) > 0 {
		form.Photo = &flow.Photo{Name: p.Photo.Name, Data: p.Photo.Data}
	}
	if err := s.form.Next(form); err != nil {
		s.fail(id, err)
		return
	}
	s.emit(wire.TypeForm, id, s.formState(""))
}

func (s *Session) submit(id string) {
	if err := s.form.Submit(s.ctx); err != nil {
		s.log.Warn("request not submitted", zap.Error(err))
		s.fail(id, err)
		return
	}
	s.emit(wire.TypeForm, id, s.formState(s.form.Messages().RequestCreated))
}

// search geocodes a typed address into a route point. Without a query it lists matches:
// drivers along the selected route for clients, requests around the driver otherwise.
func (s *Session) search(id string, p searchPayload) {
	if q := strings.TrimSpace(p.Query); q != "" {
		role := p.Role
		if role == "" {
			role = s.view.Selecting()
		}
		if !role.Valid() {
			s.fail(id, flowSelectPoints(s.form))
			return
		}
		if s.cfg.Geocoder == nil {
			s.fail(id, errNoBackend)
			return
		}
		c, err := s.cfg.Geocoder.Forward(s.ctx, q)
		if err != nil {
			s.log.Warn("address not found", zap.String("query", q), zap.Error(err))
			s.fail(id, err)
			return
		}
		s.placePoint(id, role, c, q)
		return
	}

	if s.cfg.Backend == nil {
		s.fail(id, errNoBackend)
		return
	}
	var out searchResultPayload
	switch s.role {
	case flow.RoleClient:
		sel := s.form.Route()
		from, to := s.tracker.Location(), s.tracker.Location()
		if sel.From != nil {
			from = sel.From.Coordinate
		}
		if sel.To != nil {
			to = sel.To.Coordinate
		}
		drivers, err := s.cfg.Backend.MatchDrivers(s.ctx, from, to)
		if err != nil {
			s.fail(id, err)
			return
		}
		out.Drivers, out.Count = drivers, len(drivers)
	default:
		here := s.tracker.Location()
		radius := p.Radius
		if radius <= 0 {
			radius = s.cfg.SearchRadiusKm
		}
		requests, err := s.cfg.Backend.SearchRequests(s.ctx, backend.SearchQuery{
			TelegramID: s.id,
			Type:       "geolocation",
			Location:   &here,
			RadiusKm:   radius,
		})
		if err != nil {
			s.fail(id, err)
			return
		}
		out.Requests, out.Count = requests, len(requests)
	}
	s.emit(wire.TypeSearch, id, out)
}

func flowSelectPoints(f *flow.Flow) error {
	return &flow.ValidationError{Field: "route", Message: f.Messages().SelectPoints}
}
