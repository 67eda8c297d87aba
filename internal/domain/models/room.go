package models

import (
	"time"

	"github.com/qrave1/voicelink/internal/domain/events"
)

// RoomOptions - настройки комнаты, задаются при создании
type RoomOptions struct {
	MaxUsers int    `json:"maxUsers"`
	Password string `json:"-"`
	IsPublic bool   `json:"isPublic"`
}

// Room - комната для голосового общения
type Room struct {
	ID           string              `json:"roomId"`
	Name         string              `json:"roomName"`
	CreatorID    string              `json:"creatorId"`
	Members      map[string]struct{} `json:"-"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastActivity time.Time           `json:"lastActivity"`
	Options      RoomOptions         `json:"options"`
}

func NewRoom(id, name, creatorID string, opts RoomOptions, now time.Time) *Room {
	return &Room{
		ID:           id,
		Name:         name,
		CreatorID:    creatorID,
		Members:      map[string]struct{}{creatorID: {}},
		CreatedAt:    now,
		LastActivity: now,
		Options:      opts,
	}
}

func (r *Room) HasMember(userID string) bool {
	_, ok := r.Members[userID]
	return ok
}

func (r *Room) IsFull() bool {
	return len(r.Members) >= r.Options.MaxUsers
}

// RoomInfo - снимок комнаты для REST выдачи
type RoomInfo struct {
	ID           string    `json:"roomId"`
	Name         string    `json:"roomName"`
	CreatorID    string    `json:"creatorId"`
	UserCount    int       `json:"userCount"`
	MaxUsers     int       `json:"maxUsers"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:           r.ID,
		Name:         r.Name,
		CreatorID:    r.CreatorID,
		UserCount:    len(r.Members),
		MaxUsers:     r.Options.MaxUsers,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	}
}

// User - пользователь, известный серверу на время жизни одного соединения
type User struct {
	ID          string
	Name        string
	CurrentRoom string
	LastSeen    time.Time
}

// AsRoomUser возвращает представление пользователя для протокола. Speaking и
// Volume всегда отдаются с дефолтами, актуальное состояние идёт отдельными
// user-speaking событиями.
func (u *User) AsRoomUser() events.RoomUser {
	return events.RoomUser{
		ID:       u.ID,
		Name:     u.Name,
		Speaking: false,
		Volume:   80,
	}
}
