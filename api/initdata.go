package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// initDataMaxAge bounds how old a Mini App launch may be when it asks for a session.
const initDataMaxAge = 24 * time.Hour

var errBadInitData = errors.New("invalid init data")

// verifyInitData checks the Mini App init data against the bot token and returns the
// telegram id of the user it was issued to.
func verifyInitData(initData, botToken string, now time.Time) (int64, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadInitData, err)
	}
	got, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(got) == 0 {
		return 0, fmt.Errorf("%w: missing hash", errBadInitData)
	}
	if !hmac.Equal(got, signInitData(values, botToken)) {
		return 0, fmt.Errorf("%w: hash mismatch", errBadInitData)
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad auth_date", errBadInitData)
	}
	if now.Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, fmt.Errorf("%w: expired", errBadInitData)
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return 0, fmt.Errorf("%w: no user", errBadInitData)
	}
	return user.ID, nil
}

// signInitData computes the Telegram WebApp hash of values, ignoring any hash field.
func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
