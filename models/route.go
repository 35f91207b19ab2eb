package models

// Role identifies which end of a route a point marks.
type Role string

const (
	RoleFrom Role = "from"
	RoleTo   Role = "to"
)

// Valid reports whether r is one of the two route roles.
func (r Role) Valid() bool {
	return r == RoleFrom || r == RoleTo
}

// RoutePoint is a user-placed route end.
type RoutePoint struct {
	Role       Role       `json:"role"`
	Coordinate Coordinate `json:"coordinate"`
	Address    string     `json:"address,omitempty"`
}

// RouteSelection holds the FROM and TO points picked by the user.
type RouteSelection struct {
	From *RoutePoint `json:"from,omitempty"`
	To   *RoutePoint `json:"to,omitempty"`
}

// Place stores p under its role, replacing any previous point for that role.
func (s *RouteSelection) Place(p RoutePoint) {
	pt := p
	switch p.Role {
	case RoleFrom:
		s.From = &pt
	case RoleTo:
		s.To = &pt
	}
}

// Get returns the point for role, or nil.
func (s *RouteSelection) Get(role Role) *RoutePoint {
	if role == RoleFrom {
		return s.From
	}
	if role == RoleTo {
		return s.To
	}
	return nil
}

// Complete reports whether both ends are set.
func (s *RouteSelection) Complete() bool {
	return s.From != nil && s.To != nil
}

// Reset drops both points.
func (s *RouteSelection) Reset() {
	s.From = nil
	s.To = nil
}
