package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/voicelink/internal/application/config"
)

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers выдаёт клиенту список ICE серверов. Для TURN генерируются
// временные креды по схеме TURN REST (HMAC-SHA1 от expiry на
// static-auth-secret).
func (h *IceHandler) IceServers(c echo.Context) error {
	servers := []webrtc.ICEServer{{URLs: h.cfg.Stun.URLs}}

	if h.cfg.Coturn.Host != "" && h.cfg.Coturn.Secret != "" {
		expiration := time.Now().Add(time.Hour).Unix()
		username := fmt.Sprintf("%d", expiration)

		mac := hmac.New(sha1.New, []byte(h.cfg.Coturn.Secret))
		mac.Write([]byte(username))
		password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		servers = append(servers, webrtc.ICEServer{
			URLs: []string{
				h.cfg.TurnUDPServer.URLs[0],
				h.cfg.TurnTCPServer.URLs[0],
			},
			Username:   username,
			Credential: password,
		})
	}

	return c.JSON(http.StatusOK, servers)
}
