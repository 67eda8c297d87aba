package memory

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/qrave1/voicelink/internal/application/config"
	"github.com/qrave1/voicelink/internal/domain/events"
	"github.com/qrave1/voicelink/internal/domain/models"
)

// RegistryError - ошибка протокольного уровня с кодом для error-ответа.
type RegistryError struct {
	Code    string
	Message string
}

func (e *RegistryError) Error() string {
	return e.Message
}

var (
	ErrInvalidRoomID = &RegistryError{Code: events.CodeInvalidRoomID, Message: "room id is empty"}
	ErrRoomNotFound  = &RegistryError{Code: events.CodeRoomNotFound, Message: "room not found"}
	ErrRoomFull      = &RegistryError{Code: events.CodeRoomFull, Message: "room is full"}
	ErrAlreadyInRoom = &RegistryError{Code: events.CodeAlreadyInRoom, Message: "already in room"}
	ErrWrongPassword = &RegistryError{Code: events.CodeWrongPassword, Message: "wrong password"}
)

// RoomRegistry - авторитетное in-memory хранилище комнат и пользователей.
// Все мутации проходят под одним мьютексом, который держится на время всей
// операции: два конкурентных join к одной комнате никогда не видят
// частично обновлённое состояние. Каждая мутация возвращает список
// эффектов для рассылки, сам реестр не делает никакого I/O.
type RoomRegistry struct {
	mu sync.Mutex

	rooms map[string]*models.Room
	users map[string]*models.User

	cfg config.RoomConfig

	// переопределяются в тестах
	now       func() time.Time
	newRoomID func() string
}

func NewRoomRegistry(cfg config.RoomConfig) *RoomRegistry {
	return &RoomRegistry{
		rooms:     make(map[string]*models.Room),
		users:     make(map[string]*models.User),
		cfg:       cfg,
		now:       time.Now,
		newRoomID: randomRoomID,
	}
}

// randomRoomID возвращает короткий токен комнаты: 4 случайных байта в hex,
// верхним регистром.
func randomRoomID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

func (r *RoomRegistry) RegisterUser(userID, userName string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := &models.User{
		ID:       userID,
		Name:     userName,
		LastSeen: r.now(),
	}
	r.users[userID] = user

	return user
}

// UnregisterUser выполняет неявный выход из комнаты и удаляет пользователя.
// Вызывается при закрытии транспортного соединения.
func (r *RoomRegistry) UnregisterUser(userID string) []events.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	effects := r.leaveLocked(userID)
	delete(r.users, userID)

	return effects
}

func (r *RoomRegistry) GetUser(userID string) (*models.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	return user, ok
}

// CreateRoom выделяет свежий id (с перегенерацией при коллизии) и сажает
// создателя первым участником. user-joined при этом не рассылается:
// создатель не "входит" в существующую комнату.
func (r *RoomRegistry) CreateRoom(name, creatorID string, opts models.RoomOptions) (*models.Room, []events.Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	creator, ok := r.users[creatorID]
	if !ok {
		return nil, nil, &RegistryError{Code: events.CodeUnregistered, Message: "unknown user"}
	}

	effects := r.leaveLocked(creatorID)

	room := r.createRoomLocked("", name, creatorID, opts)
	creator.CurrentRoom = room.ID

	effects = append(effects,
		events.Effect{UserID: creatorID, Payload: events.RoomCreated{
			Type:     events.TypeRoomCreated,
			RoomID:   room.ID,
			RoomName: room.Name,
		}},
		events.Effect{UserID: creatorID, Payload: events.RoomJoined{
			Type:     events.TypeRoomJoined,
			RoomID:   room.ID,
			RoomName: room.Name,
			Users:    r.roomUsersLocked(room),
		}},
	)

	return room, effects, nil
}

func (r *RoomRegistry) createRoomLocked(id, name, creatorID string, opts models.RoomOptions) *models.Room {
	if opts.MaxUsers <= 0 {
		opts.MaxUsers = r.cfg.MaxUsers
	}

	if id == "" {
		for {
			id = r.newRoomID()
			if _, exists := r.rooms[id]; !exists {
				break
			}
		}
	}

	if name == "" {
		name = "Room " + id
	}

	room := models.NewRoom(id, name, creatorID, opts, r.now())
	r.rooms[id] = room

	return room
}

// JoinRoom сажает пользователя в комнату. Вход в другую комнату сначала
// неявно выводит из текущей; повторный вход в ту же комнату - ошибка.
// create=true создаёт отсутствующую комнату с запрошенным id.
func (r *RoomRegistry) JoinRoom(roomID, userID, password string, create bool) (*models.Room, []events.Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, nil, ErrInvalidRoomID
	}

	user, ok := r.users[userID]
	if !ok {
		return nil, nil, &RegistryError{Code: events.CodeUnregistered, Message: "unknown user"}
	}

	room, exists := r.rooms[roomID]

	switch {
	case exists && room.Options.Password != "" && room.Options.Password != password:
		return nil, nil, ErrWrongPassword
	case exists && room.HasMember(userID):
		return nil, nil, ErrAlreadyInRoom
	case exists && room.IsFull():
		return nil, nil, ErrRoomFull
	case !exists && !create:
		return nil, nil, ErrRoomNotFound
	}

	effects := r.leaveLocked(userID)

	if !exists {
		room = r.createRoomLocked(roomID, "", userID, models.RoomOptions{IsPublic: true, Password: password})
	} else {
		room.Members[userID] = struct{}{}
		room.LastActivity = r.now()
	}
	user.CurrentRoom = roomID

	effects = append(effects, events.Effect{UserID: userID, Payload: events.RoomJoined{
		Type:     events.TypeRoomJoined,
		RoomID:   room.ID,
		RoomName: room.Name,
		Users:    r.roomUsersLocked(room),
	}})

	joined := events.UserJoined{
		Type:   events.TypeUserJoined,
		RoomID: room.ID,
		User:   user.AsRoomUser(),
	}
	for memberID := range room.Members {
		if memberID == userID {
			continue
		}
		effects = append(effects, events.Effect{UserID: memberID, Payload: joined})
	}

	return room, effects, nil
}

// LeaveRoom выводит пользователя из текущей комнаты. ok=false, если
// пользователь ни в какой комнате не состоит - это не ошибка.
func (r *RoomRegistry) LeaveRoom(userID string) (string, bool, []events.Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok || user.CurrentRoom == "" {
		return "", false, nil
	}

	roomID := user.CurrentRoom
	return roomID, true, r.leaveLocked(userID)
}

func (r *RoomRegistry) leaveLocked(userID string) []events.Effect {
	user, ok := r.users[userID]
	if !ok || user.CurrentRoom == "" {
		return nil
	}

	roomID := user.CurrentRoom
	user.CurrentRoom = ""

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	delete(room.Members, userID)
	room.LastActivity = r.now()

	if len(room.Members) == 0 {
		delete(r.rooms, roomID)
		return nil
	}

	left := events.UserLeft{Type: events.TypeUserLeft, RoomID: roomID, UserID: userID}

	effects := make([]events.Effect, 0, len(room.Members))
	for memberID := range room.Members {
		effects = append(effects, events.Effect{UserID: memberID, Payload: left})
	}

	return effects
}

// Touch обновляет lastSeen пользователя и lastActivity его комнаты.
// Вызывается на signal и speaking, чтобы живые комнаты не попадали под
// idle-уборку.
func (r *RoomRegistry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return
	}
	user.LastSeen = r.now()

	if room, ok := r.rooms[user.CurrentRoom]; ok {
		room.LastActivity = r.now()
	}
}

// Speaking возвращает эффекты рассылки user-speaking остальным участникам
// комнаты говорящего.
func (r *RoomRegistry) Speaking(userID string, speaking bool, volumeDb *float64) []events.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok || user.CurrentRoom == "" {
		return nil
	}

	room, ok := r.rooms[user.CurrentRoom]
	if !ok {
		return nil
	}

	user.LastSeen = r.now()
	room.LastActivity = r.now()

	payload := events.UserSpeaking{
		Type:     events.TypeUserSpeaking,
		RoomID:   room.ID,
		UserID:   userID,
		Speaking: speaking,
		VolumeDb: volumeDb,
	}

	var effects []events.Effect
	for memberID := range room.Members {
		if memberID == userID {
			continue
		}
		effects = append(effects, events.Effect{UserID: memberID, Payload: payload})
	}

	return effects
}

// CleanupInactiveRooms удаляет комнаты без участников и комнаты, простоявшие
// без активности дольше idle-таймаута. Оставшимся участникам уходит
// room-closed.
func (r *RoomRegistry) CleanupInactiveRooms(now time.Time) ([]string, []events.Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		removed []string
		effects []events.Effect
	)

	for roomID, room := range r.rooms {
		if len(room.Members) != 0 && now.Sub(room.LastActivity) <= r.cfg.IdleTimeout {
			continue
		}

		closed := events.RoomClosed{Type: events.TypeRoomClosed, RoomID: roomID}
		for memberID := range room.Members {
			if user, ok := r.users[memberID]; ok {
				user.CurrentRoom = ""
			}
			effects = append(effects, events.Effect{UserID: memberID, Payload: closed})
		}

		delete(r.rooms, roomID)
		removed = append(removed, roomID)
	}

	return removed, effects
}

// ListPublicRooms - снимок открытых комнат для REST выдачи.
func (r *RoomRegistry) ListPublicRooms() []models.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]models.RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		if !room.Options.IsPublic {
			continue
		}
		infos = append(infos, room.Info())
	}

	return infos
}

// RoomCount нужен только метрикам.
func (r *RoomRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

func (r *RoomRegistry) roomUsersLocked(room *models.Room) []events.RoomUser {
	users := make([]events.RoomUser, 0, len(room.Members))
	for memberID := range room.Members {
		if user, ok := r.users[memberID]; ok {
			users = append(users, user.AsRoomUser())
		}
	}
	return users
}
