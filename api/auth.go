package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
)

var errBadToken = errors.New("invalid session token")

// Identity is who a tracking session belongs to.
type Identity struct {
	TelegramID int64
	Role       string
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tokens) Issue(id Identity) (string, error) {
	claims := jwt.MapClaims{
		"telegram_id": strconv.FormatInt(id.TelegramID, 10),
		"role":        id.Role,
		"exp":         t.now().Add(t.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tokens) Verify(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errBadToken, err)
	}

	idStr, _ := claims["telegram_id"].(string)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Identity{}, errBadToken
	}
	role, _ := claims["role"].(string)
	if role != "client" && role != "driver" {
		return Identity{}, errBadToken
	}
	return Identity{TelegramID: id, Role: role}, nil
}
