package constant

// Общие ключи атрибутов для slog
const (
	Error    = "error"
	UserID   = "user_id"
	UserName = "user_name"
	RoomID   = "room_id"
	PeerID   = "peer_id"
	MsgType  = "msg_type"
)
