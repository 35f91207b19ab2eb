// Package flow is the three-step request form shared by the client and driver apps.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"zholda/models"
)

// Step is a position in the form flow.
type Step int

const (
	StepCollecting Step = iota + 1
	StepPreview
	StepSubmitted
)

func (s Step) String() string {
	switch s {
	case StepCollecting:
		return "collecting"
	case StepPreview:
		return "preview"
	case StepSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ErrWrongStep is returned by a transition that is not allowed from the current step.
var ErrWrongStep = errors.New("flow: transition not allowed in this step")

// ValidationError blocks the move to preview. Message is ready to show to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Photo is an optional attachment.
type Photo struct {
	Name string
	Data []byte
}

// Form holds the fields entered on step one.
type Form struct {
	TelegramID    int64     `json:"telegram_id"`
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
	Price         int       `json:"price"`
	TruckType     string    `json:"truck_type,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	Contact       string    `json:"contact"`
	DepartureTime time.Time `json:"-"`
	Photo         *Photo    `json:"-"`
}

// MarshalJSON writes departure_time in models.DepartureLayout and leaves it out when unset.
func (f Form) MarshalJSON() ([]byte, error) {
	type plain Form
	out := struct {
		plain
		DepartureTime string `json:"departure_time,omitempty"`
	}{plain: plain(f)}
	if !f.DepartureTime.IsZero() {
		out.DepartureTime = f.DepartureTime.Format(models.DepartureLayout)
	}
	return json.Marshal(out)
}

// Submission is what gets sent to the backend.
type Submission struct {
	Role     Role
	Endpoint string
	Form     Form
	Route    models.RouteSelection
}

// Submitter stores a submission.
type Submitter interface {
	Submit(ctx context.Context, s Submission) error
}

// Flow is the form state machine of one app surface.
type Flow struct {
	cfg  RoleConfig
	sub  Submitter
	lang Lang

	mu    sync.Mutex
	step  Step
	form  Form
	route models.RouteSelection
}

// New creates a flow for role.
func New(role Role, lang Lang, sub Submitter) (*Flow, error) {
	cfg, ok := Roles[role]
	if !ok {
		return nil, fmt.Errorf("flow: unknown role %q", role)
	}
	return &Flow{cfg: cfg, sub: sub, lang: lang, step: StepCollecting}, nil
}

func (f *Flow) Role() Role { return f.cfg.Role }

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Form returns the fields captured by the last successful Next.
func (f *Flow) Form() Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

// Messages returns the strings for the flow language.
func (f *Flow) Messages() Messages {
	return f.cfg.MessagesFor(f.lang)
}

// PlacePoint records a route end; placing a role again replaces it.
func (f *Flow) PlacePoint(p models.RoutePoint) error {
	if !p.Role.Valid() {
		return fmt.Errorf("flow: unknown point role %q", p.Role)
	}
	f.mu.Lock()
	f.route.Place(p)
	f.mu.Unlock()
	return nil
}

// Route returns a copy of the current route selection.
func (f *Flow) Route() models.RouteSelection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySelection(f.route)
}

// Next validates form and moves to preview.
func (f *Flow) Next(form Form) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepCollecting {
		return ErrWrongStep
	}
	if err := f.validate(form); err != nil {
		return err
	}
	if f.route.From != nil && form.FromAddress == "" {
		form.FromAddress = f.route.From.Address
	}
	if f.route.To != nil && form.ToAddress == "" {
		form.ToAddress = f.route.To.Address
	}
	f.form = form
	f.step = StepPreview
	return nil
}

// Back returns from preview to collecting, keeping the entered fields.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepPreview {
		return ErrWrongStep
	}
	f.step = StepCollecting
	return nil
}

// Submit sends the previewed form. On failure the flow stays in preview.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepPreview {
		f.mu.Unlock()
		return ErrWrongStep
	}
	s := Submission{
		Role:     f.cfg.Role,
		Endpoint: f.cfg.Endpoint,
		Form:     f.form,
		Route:    copySelection(f.route),
	}
	f.mu.Unlock()

	if err := f.sub.Submit(ctx, s); err != nil {
		return err
	}

	f.mu.Lock()
	if f.step == StepPreview {
		f.step = StepSubmitted
	}
	f.mu.Unlock()
	return nil
}

// Reset returns to collecting and drops the form and route selection.
func (f *Flow) Reset() {
	f.mu.Lock()
	f.step = StepCollecting
	f.form = Form{}
	f.route.Reset()
	f.mu.Unlock()
}

// UserMessage renders err for display.
func (f *Flow) UserMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return f.Messages().Error + ": " + err.Error()
}

func (f *Flow) validate(form Form) error {
	m := f.Messages()
	switch {
	case strings.TrimSpace(form.Contact) == "":
		return &ValidationError{Field: "contact", Message: m.Contact}
	case f.route.From == nil || f.route.To == nil:
		return &ValidationError{Field: "route", Message: m.SelectPoints}
	case form.Price <= 0:
		return &ValidationError{Field: "price", Message: m.FillAllFields}
	case form.Price < f.cfg.MinPrice:
		return &ValidationError{Field: "price", Message: m.MinPrice}
	case f.cfg.RequireTruckType && !TruckTypes[form.TruckType]:
		return &ValidationError{Field: "truck_type", Message: m.SelectTruck}
	case f.cfg.RequireDepartureTime && form.DepartureTime.IsZero():
		return &ValidationError{Field: "departure_time", Message: m.DepartureTime}
	}
	return nil
}

func copySelection(s models.RouteSelection) models.RouteSelection {
	var out models.RouteSelection
	if s.From != nil {
		out.Place(*s.From)
	}
	if s.To != nil {
		out.Place(*s.To)
	}
	return out
}
