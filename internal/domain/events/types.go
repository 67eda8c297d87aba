package events

import "encoding/json"

// Type различает сообщения сигнального протокола.
type Type string

// Client to server.
const (
	TypeHello      Type = "hello"
	TypeCreateRoom Type = "create-room"
	TypeJoinRoom   Type = "join-room"
	TypeLeaveRoom  Type = "leave-room"
	TypeSignal     Type = "signal"
	TypeSpeaking   Type = "speaking"
)

// Server to client.
const (
	TypeHelloAck     Type = "hello-ack"
	TypeRoomCreated  Type = "room-created"
	TypeRoomJoined   Type = "room-joined"
	TypeRoomLeft     Type = "room-left"
	TypeRoomClosed   Type = "room-closed"
	TypeUserJoined   Type = "user-joined"
	TypeUserLeft     Type = "user-left"
	TypeUserSpeaking Type = "user-speaking"
	TypeError        Type = "error"
)

// Коды ошибок в Error
const (
	CodeUnregistered  = "UNREGISTERED"
	CodeInvalidRoomID = "INVALID_ROOM_ID"
	CodeRoomNotFound  = "ROOM_NOT_FOUND"
	CodeRoomFull      = "ROOM_FULL"
	CodeAlreadyInRoom = "ALREADY_IN_ROOM"
	CodeWrongPassword = "WRONG_PASSWORD"
)

// RoomUser - участник комнаты в room-joined и user-joined
type RoomUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Speaking bool   `json:"speaking"`
	Volume   int    `json:"volume"`
}

type Hello struct {
	Type     Type   `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type HelloAck struct {
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

type CreateRoom struct {
	Type Type   `json:"type"`
	Name string `json:"name,omitempty"`
}

type JoinRoom struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	Create   bool   `json:"create,omitempty"`
	Password string `json:"password,omitempty"`
}

type LeaveRoom struct {
	Type Type `json:"type"`
}

type RoomCreated struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

type RoomJoined struct {
	Type     Type       `json:"type"`
	RoomID   string     `json:"roomId"`
	RoomName string     `json:"roomName"`
	Users    []RoomUser `json:"users"`
}

type RoomLeft struct {
	Type Type `json:"type"`
}

type RoomClosed struct {
	Type   Type   `json:"type"`
	RoomID string `json:"roomId"`
}

type UserJoined struct {
	Type   Type     `json:"type"`
	RoomID string   `json:"roomId"`
	User   RoomUser `json:"user"`
}

type UserLeft struct {
	Type   Type   `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// Signal - непрозрачные данные рукопожатия (SDP/ICE). Заполнено ровно одно
// из полей To/From в зависимости от направления; Data никогда не разбирается.
type Signal struct {
	Type Type            `json:"type"`
	To   string          `json:"to,omitempty"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data"`
}

type Speaking struct {
	Type     Type     `json:"type"`
	Speaking bool     `json:"speaking"`
	VolumeDb *float64 `json:"volumeDb,omitempty"`
}

type UserSpeaking struct {
	Type     Type     `json:"type"`
	RoomID   string   `json:"roomId"`
	UserID   string   `json:"userId"`
	Speaking bool     `json:"speaking"`
	VolumeDb *float64 `json:"volumeDb"`
}

type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

// Parse разбирает входящее сообщение. ok=false означает, что сообщение
// нужно молча проигнорировать: битый JSON, отсутствующий или неизвестный
// type (терпимость к рассинхронизации версий протокола).
func Parse(data []byte) (any, bool) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, false
	}

	var msg any
	switch envelope.Type {
	case TypeHello:
		msg = &Hello{}
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeSignal:
		msg = &Signal{}
	case TypeSpeaking:
		msg = &Speaking{}
	case TypeHelloAck:
		msg = &HelloAck{}
	case TypeRoomCreated:
		msg = &RoomCreated{}
	case TypeRoomJoined:
		msg = &RoomJoined{}
	case TypeRoomLeft:
		msg = &RoomLeft{}
	case TypeRoomClosed:
		msg = &RoomClosed{}
	case TypeUserJoined:
		msg = &UserJoined{}
	case TypeUserLeft:
		msg = &UserLeft{}
	case TypeUserSpeaking:
		msg = &UserSpeaking{}
	case TypeError:
		msg = &Error{}
	default:
		return nil, false
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, false
	}

	return msg, true
}

// Effect - одно исходящее сообщение конкретному пользователю. Реестр комнат
// возвращает эффекты от мутаций, сигнальный сервер доставляет их по живым
// соединениям.
type Effect struct {
	UserID  string
	Payload any
}
