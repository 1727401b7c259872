package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"gridbot/internal/config"
)

// Auth signs Bybit v5 REST and WebSocket requests with HMAC-SHA256, the
// sole authentication scheme the private API surface uses.
//
// REST signature: sign = HMAC_SHA256(secret, timestamp + apiKey + recvWindow + body)
// WS signature:    sign = HMAC_SHA256(secret, "GET/realtime" + expires)
type Auth struct {
	apiKey     string
	apiSecret  string
	recvWindow int
}

// NewAuth creates an Auth instance from config.
func NewAuth(cfg config.APIConfig) *Auth {
	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5000
	}
	return &Auth{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: recv,
	}
}

// RecvWindow returns the configured receive window in milliseconds.
func (a *Auth) RecvWindow() int {
	return a.recvWindow
}

// RESTHeaders returns the four X-BAPI-* headers a signed REST request needs.
// body is the raw JSON request body for POST, or the sorted query string
// for GET; pass "" for bodyless GETs.
func (a *Auth) RESTHeaders(body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := strconv.Itoa(a.recvWindow)
	payload := timestamp + a.apiKey + recvWindow + body
	sig := a.sign(payload)

	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-SIGN":        sig,
		"X-BAPI-RECV-WINDOW": recvWindow,
	}
}

// WSAuthArgs returns the [apiKey, expires, signature] triplet the private
// WebSocket "auth" op expects, per Bybit's v5 WS auth handshake.
func (a *Auth) WSAuthArgs() []string {
	expires := strconv.FormatInt(time.Now().Add(5*time.Second).UnixMilli(), 10)
	sig := a.sign("GET/realtime" + expires)
	return []string{a.apiKey, expires, sig}
}

func (a *Auth) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
