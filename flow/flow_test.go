package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"zholda/models"
)

type fakeSubmitter struct {
	err  error
	subs []Submission
}

func (s *fakeSubmitter) Submit(_ context.Context, sub Submission) error {
	s.subs = append(s.subs, sub)
	return s.err
}

type backendErr struct{ msg string }

func (e backendErr) Error() string       { return "backend: " + e.msg }
func (e backendErr) UserMessage() string { return e.msg }

func withPoints(t *testing.T, f *Flow) {
	t.Helper()
	for _, p := range []models.RoutePoint{
		{Role: models.RoleFrom, Coordinate: models.Coordinate{Lon: 76.89, Lat: 43.24}, Address: "Алматы, Абая 10"},
		{Role: models.RoleTo, Coordinate: models.Coordinate{Lon: 76.95, Lat: 43.20}, Address: "Алматы, Сатпаева 5"},
	} {
		if err := f.PlacePoint(p); err != nil {
			t.Fatal(err)
		}
	}
}

func clientForm(price int) Form {
	return Form{TelegramID: 42, Price: price, TruckType: "medium", Contact: "+7 (701) 123-45-67"}
}

func TestMinimumPrice(t *testing.T) {
	t.Parallel()
	f, _ := New(RoleClient, LangRU, &fakeSubmitter{})
	withPoints(t, f)

	err := f.Next(clientForm(1500))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "price" {
		t.Fatalf("price 1500: err = %v", err)
	}
	if verr.Message != "Минимальная цена 2000 ₸" {
		t.Errorf("message = %q", verr.Message)
	}
	if f.Step() != StepCollecting {
		t.Errorf("step = %s", f.Step())
	}

	if err := f.Next(clientForm(2000)); err != nil {
		t.Fatalf("price 2000: %v", err)
	}
	if f.Step() != StepPreview {
		t.Errorf("step = %s, want preview", f.Step())
	}
	if got := f.Form().FromAddress; got != "Алматы, Абая 10" {
		t.Errorf("from address = %q", got)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	departure := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		role   Role
		points bool
		form   Form
		field  string
	}{
		{"missing contact", RoleClient, true, Form{Price: 3000, TruckType: "small"}, "contact"},
		{"missing points", RoleClient, false, clientForm(3000), "route"},
		{"missing price", RoleClient, true, clientForm(0), "price"},
		{"bad truck", RoleClient, true, Form{Price: 3000, TruckType: "rocket", Contact: "1"}, "truck_type"},
		{"driver without departure", RoleDriver, true, Form{Price: 3000, Contact: "1"}, "departure_time"},
		{"driver ok", RoleDriver, true, Form{Price: 3000, Contact: "1", DepartureTime: departure}, ""},
		{"client ok", RoleClient, true, clientForm(2500), ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, _ := New(tt.role, LangKZ, &fakeSubmitter{})
			if tt.points {
				withPoints(t, f)
			}
			err := f.Next(tt.form)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("err = %v, want field %s", err, tt.field)
			}
			if verr.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	f, _ := New(RoleClient, LangRU, sub)

	if err := f.Submit(context.Background()); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("submit from collecting: %v", err)
	}

	withPoints(t, f)
	f.Next(clientForm(5000))
	if err := f.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Step() != StepSubmitted {
		t.Errorf("step = %s", f.Step())
	}
	s := sub.subs[0]
	if s.Endpoint != "/api/client/request" || s.Form.Price != 5000 || !s.Route.Complete() {
		t.Errorf("submission = %+v", s)
	}
}

func TestSubmitFailureStaysInPreview(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{err: backendErr{"Заявка уже существует"}}
	f, _ := New(RoleDriver, LangRU, sub)
	withPoints(t, f)
	f.Next(Form{Price: 3000, Contact: "1", DepartureTime: time.Now()})

	err := f.Submit(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if f.Step() != StepPreview {
		t.Errorf("step = %s, want preview", f.Step())
	}
	if got := f.UserMessage(err); got != "Заявка уже существует" {
		t.Errorf("user message = %q", got)
	}
	if got := f.UserMessage(errors.New("timeout")); got != "Ошибка: timeout" {
		t.Errorf("generic message = %q", got)
	}
}

func TestBackAndReset(t *testing.T) {
	t.Parallel()
	f, _ := New(RoleClient, LangRU, &fakeSubmitter{})
	if err := f.Back(); !errors.Is(err, ErrWrongStep) {
		t.Errorf("back from collecting: %v", err)
	}
	withPoints(t, f)
	f.Next(clientForm(2000))
	if err := f.Back(); err != nil || f.Step() != StepCollecting {
		t.Fatalf("back: %v, step %s", err, f.Step())
	}
	if err := f.Next(clientForm(2000)); err != nil {
		t.Fatalf("next after back: %v", err)
	}

	f.Reset()
	if f.Step() != StepCollecting {
		t.Errorf("step = %s", f.Step())
	}
	r := f.Route()
	if r.From != nil || r.To != nil {
		t.Errorf("route not cleared: %+v", r)
	}
	if f.Form() != (Form{}) {
		t.Errorf("form not cleared")
	}
}

func TestPlacePointReplaces(t *testing.T) {
	t.Parallel()
	f, _ := New(RoleClient, LangRU, nil)
	f.PlacePoint(models.RoutePoint{Role: models.RoleFrom, Address: "a"})
	f.PlacePoint(models.RoutePoint{Role: models.RoleFrom, Address: "b"})
	if got := f.Route().From.Address; got != "b" {
		t.Errorf("from = %q", got)
	}
	if err := f.PlacePoint(models.RoutePoint{Role: "via"}); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestUnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := New("courier", LangRU, nil); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestFormJSONDepartureTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		form Form
		want string
	}{
		{"unset", clientForm(3000), ""},
		{"set", Form{Price: 3000, DepartureTime: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)}, "2024-06-01T09:30"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := json.Marshal(tt.form)
			if err != nil {
				t.Fatal(err)
			}
			var fields map[string]interface{}
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatal(err)
			}
			got, present := fields["departure_time"]
			if tt.want == "" {
				if present {
					t.Errorf("departure_time = %v, want omitted", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("departure_time = %v, want %s", got, tt.want)
			}
			if fields["price"] != float64(3000) {
				t.Errorf("price = %v", fields["price"])
			}
		})
	}
}
