package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/voicelink/internal/application/config"
)

func serveIce(t *testing.T, cfg *config.Config) []webrtc.ICEServer {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ice", nil)
	rec := httptest.NewRecorder()

	if err := NewIceHandler(cfg).IceServers(e.NewContext(req, rec)); err != nil {
		t.Fatalf("IceServers: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var servers []webrtc.ICEServer
	if err := json.Unmarshal(rec.Body.Bytes(), &servers); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return servers
}

func TestIceServers_StunOnly(t *testing.T) {
	cfg := &config.Config{
		Stun: config.StunConfig{URLs: []string{"stun:stun.example.org:3478"}},
	}

	servers := serveIce(t, cfg)
	if len(servers) != 1 {
		t.Fatalf("expected only STUN, got %+v", servers)
	}
	if servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("unexpected STUN url: %v", servers[0].URLs)
	}
}

func TestIceServers_TurnRestCredentials(t *testing.T) {
	cfg := &config.Config{
		Stun: config.StunConfig{URLs: []string{"stun:stun.example.org:3478"}},
		Coturn: config.CoturnConfig{
			Host:   "turn.example.org:3478",
			Secret: "s3cret",
		},
		TurnUDPServer: webrtc.ICEServer{URLs: []string{"turn:turn.example.org:3478?transport=udp"}},
		TurnTCPServer: webrtc.ICEServer{URLs: []string{"turn:turn.example.org:3478?transport=tcp"}},
	}

	servers := serveIce(t, cfg)
	if len(servers) != 2 {
		t.Fatalf("expected STUN + TURN, got %+v", servers)
	}

	turn := servers[1]
	if len(turn.URLs) != 2 {
		t.Fatalf("expected udp and tcp TURN urls, got %v", turn.URLs)
	}

	username := turn.Username
	if username == "" {
		t.Fatalf("missing TURN username: %+v", turn)
	}

	expiry, err := strconv.ParseInt(username, 10, 64)
	if err != nil {
		t.Fatalf("username %q is not a unix timestamp", username)
	}
	if until := time.Until(time.Unix(expiry, 0)); until < 50*time.Minute || until > 70*time.Minute {
		t.Fatalf("expiry %v out of the one hour window", until)
	}

	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write([]byte(username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if cred, _ := turn.Credential.(string); cred != want {
		t.Fatalf("credential mismatch: got %q, want %q", turn.Credential, want)
	}
}
