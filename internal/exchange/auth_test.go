package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"gridbot/internal/config"
)

func testAuth() *Auth {
	return NewAuth(config.APIConfig{
		APIKey:     "test-key",
		APISecret:  "test-secret",
		RecvWindow: 5000,
	})
}

func TestRESTHeadersSignatureMatchesHMAC(t *testing.T) {
	t.Parallel()

	a := testAuth()
	body := `{"symbol":"BTCUSDT"}`
	headers := a.RESTHeaders(body)

	payload := headers["X-BAPI-TIMESTAMP"] + a.apiKey + headers["X-BAPI-RECV-WINDOW"] + body
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))

	if headers["X-BAPI-SIGN"] != want {
		t.Errorf("X-BAPI-SIGN = %s, want %s", headers["X-BAPI-SIGN"], want)
	}
	if headers["X-BAPI-API-KEY"] != "test-key" {
		t.Errorf("X-BAPI-API-KEY = %s, want test-key", headers["X-BAPI-API-KEY"])
	}
	if headers["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("X-BAPI-RECV-WINDOW = %s, want 5000", headers["X-BAPI-RECV-WINDOW"])
	}
}

func TestRESTHeadersDefaultRecvWindow(t *testing.T) {
	t.Parallel()

	a := NewAuth(config.APIConfig{APIKey: "k", APISecret: "s"})
	if a.RecvWindow() != 5000 {
		t.Errorf("RecvWindow() = %d, want 5000", a.RecvWindow())
	}
}

func TestWSAuthArgsShape(t *testing.T) {
	t.Parallel()

	a := testAuth()
	args := a.WSAuthArgs()
	if len(args) != 3 {
		t.Fatalf("len(args) = %d, want 3", len(args))
	}
	if args[0] != "test-key" {
		t.Errorf("args[0] = %s, want test-key", args[0])
	}
	if len(args[2]) != 64 || strings.ContainsAny(args[2], "ghijklmnopqrstuvwxyz") {
		t.Errorf("args[2] does not look like a hex sha256 digest: %s", args[2])
	}
}
