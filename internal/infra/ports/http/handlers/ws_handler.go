package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/voicelink/internal/application/config"
	"github.com/qrave1/voicelink/internal/application/constant"
	"github.com/qrave1/voicelink/internal/infra/adapters/memory"
	"github.com/qrave1/voicelink/internal/usecase"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	signalingUsecase usecase.SignalingUsecase

	wsConnRepo memory.WebsocketConnectionRepository
}

func NewWebSocketHandler(
	cfg *config.Config,
	signalingUsecase usecase.SignalingUsecase,
	wsConnRepo memory.WebsocketConnectionRepository,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		signalingUsecase: signalingUsecase,
		wsConnRepo:       wsConnRepo,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	// до hello соединение живёт под временным ключом
	sess := &usecase.Session{ConnID: uuid.NewString()}

	h.wsConnRepo.Add(sess.Key(), ws)
	defer func() {
		h.wsConnRepo.Remove(sess.Key())
		h.signalingUsecase.HandleDisconnect(sess)
	}()

	if err = ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				// WriteControl безопасен на фоне конкурентных WriteJSON
				err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				if err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			h.handleWebsocketError(sess, err)
			return nil
		}

		h.signalingUsecase.Dispatch(sess, msg)
	}
}

func (h *WebSocketHandler) handleWebsocketError(sess *usecase.Session, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("user disconnected from websocket", slog.String(constant.UserID, sess.UserID))
		default:
			slog.Error("websocket close error", slog.Any(constant.Error, err))
		}
	} else {
		slog.Error(
			"websocket read",
			slog.Any(constant.Error, err),
		)
	}
}
