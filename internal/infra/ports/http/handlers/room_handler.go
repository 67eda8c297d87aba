package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/voicelink/internal/usecase"
)

type RoomHandler struct {
	signalingUsecase usecase.SignalingUsecase
}

func NewRoomHandler(signalingUsecase usecase.SignalingUsecase) *RoomHandler {
	return &RoomHandler{signalingUsecase: signalingUsecase}
}

// ListRoomsHandler отдаёт снимок открытых комнат
func (h *RoomHandler) ListRoomsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, h.signalingUsecase.ListPublicRooms())
}
