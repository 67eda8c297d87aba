package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/qrave1/voicelink/internal/application/constant"
	"github.com/qrave1/voicelink/internal/application/metric"
	"github.com/qrave1/voicelink/internal/domain/events"
	"github.com/qrave1/voicelink/internal/domain/models"
	"github.com/qrave1/voicelink/internal/infra/adapters/memory"
)

// Session привязывает одно транспортное соединение максимум к одному
// пользователю. До hello соединение не аутентифицировано и числится в
// репозитории соединений под временным ключом ConnID.
type Session struct {
	ConnID string
	UserID string
}

// Key - текущий ключ соединения в репозитории.
func (s *Session) Key() string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.ConnID
}

func (s *Session) authenticated() bool {
	return s.UserID != ""
}

type SignalingUsecase interface {
	// Dispatch обрабатывает один кадр протокола. Битые и неизвестные
	// сообщения молча игнорируются.
	Dispatch(sess *Session, raw []byte)

	// HandleDisconnect выполняет неявный leave и снимает пользователя
	// с учёта. Вызывается при закрытии соединения.
	HandleDisconnect(sess *Session)

	// RunRoomSweeper периодически убирает пустые и простаивающие комнаты
	// до отмены контекста.
	RunRoomSweeper(ctx context.Context, interval time.Duration)

	ListPublicRooms() []models.RoomInfo
}

type signalingUsecase struct {
	registry *memory.RoomRegistry
	wsRepo   memory.WebsocketConnectionRepository
}

func NewSignalingUsecase(
	registry *memory.RoomRegistry,
	wsRepo memory.WebsocketConnectionRepository,
) SignalingUsecase {
	return &signalingUsecase{
		registry: registry,
		wsRepo:   wsRepo,
	}
}

func (s *signalingUsecase) Dispatch(sess *Session, raw []byte) {
	msg, ok := events.Parse(raw)
	if !ok {
		return
	}

	if hello, ok := msg.(*events.Hello); ok {
		s.handleHello(sess, hello)
		return
	}

	if !sess.authenticated() {
		s.wsRepo.Write(sess.Key(), events.NewError(events.CodeUnregistered, "hello required"))
		return
	}

	switch m := msg.(type) {
	case *events.CreateRoom:
		s.handleCreateRoom(sess, m)
	case *events.JoinRoom:
		s.handleJoinRoom(sess, m)
	case *events.LeaveRoom:
		s.handleLeaveRoom(sess)
	case *events.Signal:
		s.handleSignal(sess, m)
	case *events.Speaking:
		s.handleSpeaking(sess, m)
	default:
		// серверные типы от клиента игнорируем
	}
}

func (s *signalingUsecase) handleHello(sess *Session, msg *events.Hello) {
	if msg.UserID == "" || msg.UserName == "" {
		return
	}

	metric.IncrementSignalingMessages(string(events.TypeHello))

	s.wsRepo.Rename(sess.Key(), msg.UserID)
	sess.UserID = msg.UserID
	s.registry.RegisterUser(msg.UserID, msg.UserName)

	slog.Info(
		"user registered",
		slog.String(constant.UserID, msg.UserID),
		slog.String(constant.UserName, msg.UserName),
	)

	s.wsRepo.Write(sess.UserID, events.HelloAck{Type: events.TypeHelloAck, UserID: msg.UserID})
}

func (s *signalingUsecase) handleCreateRoom(sess *Session, msg *events.CreateRoom) {
	metric.IncrementSignalingMessages(string(events.TypeCreateRoom))

	room, effects, err := s.registry.CreateRoom(msg.Name, sess.UserID, models.RoomOptions{IsPublic: true})
	if err != nil {
		s.writeError(sess.UserID, err)
		return
	}

	slog.Info(
		"room created",
		slog.String(constant.RoomID, room.ID),
		slog.String(constant.UserID, sess.UserID),
	)

	s.dispatchEffects(effects)
	metric.SetActiveRooms(s.registry.RoomCount())
}

func (s *signalingUsecase) handleJoinRoom(sess *Session, msg *events.JoinRoom) {
	metric.IncrementSignalingMessages(string(events.TypeJoinRoom))

	room, effects, err := s.registry.JoinRoom(msg.RoomID, sess.UserID, msg.Password, msg.Create)
	if err != nil {
		s.writeError(sess.UserID, err)
		return
	}

	slog.Info(
		"user joined room",
		slog.String(constant.RoomID, room.ID),
		slog.String(constant.UserID, sess.UserID),
	)

	s.dispatchEffects(effects)
	metric.SetActiveRooms(s.registry.RoomCount())
}

func (s *signalingUsecase) handleLeaveRoom(sess *Session) {
	metric.IncrementSignalingMessages(string(events.TypeLeaveRoom))

	roomID, left, effects := s.registry.LeaveRoom(sess.UserID)
	if left {
		slog.Info(
			"user left room",
			slog.String(constant.RoomID, roomID),
			slog.String(constant.UserID, sess.UserID),
		)
	}

	// room-left уходит всегда, даже если пользователь нигде не состоял
	s.wsRepo.Write(sess.UserID, events.RoomLeft{Type: events.TypeRoomLeft})
	s.dispatchEffects(effects)
	metric.SetActiveRooms(s.registry.RoomCount())
}

// handleSignal - строго unicast ретрансляция. Если адресат не подключен,
// сообщение пропадает без ошибки: у отправителя свой таймаут соединения.
func (s *signalingUsecase) handleSignal(sess *Session, msg *events.Signal) {
	metric.IncrementSignalingMessages(string(events.TypeSignal))

	if msg.To == "" {
		return
	}

	s.registry.Touch(sess.UserID)

	if !s.wsRepo.Connected(msg.To) {
		return
	}

	s.wsRepo.Write(msg.To, events.Signal{
		Type: events.TypeSignal,
		From: sess.UserID,
		Data: msg.Data,
	})
}

func (s *signalingUsecase) handleSpeaking(sess *Session, msg *events.Speaking) {
	metric.IncrementSignalingMessages(string(events.TypeSpeaking))

	s.dispatchEffects(s.registry.Speaking(sess.UserID, msg.Speaking, msg.VolumeDb))
}

func (s *signalingUsecase) HandleDisconnect(sess *Session) {
	if !sess.authenticated() {
		return
	}

	effects := s.registry.UnregisterUser(sess.UserID)
	s.dispatchEffects(effects)
	metric.SetActiveRooms(s.registry.RoomCount())

	slog.Info("user disconnected", slog.String(constant.UserID, sess.UserID))
}

func (s *signalingUsecase) RunRoomSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, effects := s.registry.CleanupInactiveRooms(now)
			if len(removed) == 0 {
				continue
			}

			s.dispatchEffects(effects)
			metric.SetActiveRooms(s.registry.RoomCount())

			slog.Info("cleaned up inactive rooms", slog.Int("count", len(removed)))
		}
	}
}

func (s *signalingUsecase) ListPublicRooms() []models.RoomInfo {
	return s.registry.ListPublicRooms()
}

// dispatchEffects доставляет эффекты реестра в порядке, в котором реестр их
// применил.
func (s *signalingUsecase) dispatchEffects(effects []events.Effect) {
	for _, effect := range effects {
		s.wsRepo.Write(effect.UserID, effect.Payload)
	}
}

func (s *signalingUsecase) writeError(userID string, err error) {
	var regErr *memory.RegistryError
	if errors.As(err, &regErr) {
		s.wsRepo.Write(userID, events.NewError(regErr.Code, regErr.Message))
		return
	}

	s.wsRepo.Write(userID, events.NewError("", err.Error()))
}
