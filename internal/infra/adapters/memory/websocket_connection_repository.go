package memory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/qrave1/voicelink/internal/application/constant"
	"github.com/qrave1/voicelink/internal/application/metric"
)

// WebsocketConnectionRepository интерфейс для работы с активными сессиями в памяти
type WebsocketConnectionRepository interface {
	Add(userID string, conn *websocket.Conn)
	Remove(userID string)

	// Write отправляет payload пользователю. Best-effort: если соединения
	// нет или запись упала - молча пропускаем, доставка сигналинга не
	// гарантируется.
	Write(userID string, payload any)
	Connected(userID string) bool

	// Rename перевешивает соединение с временного ключа сессии на id
	// пользователя после hello.
	Rename(oldID, newID string)
}

type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsConnectionRepository struct {
	// wsConns хранит map[user_id]*ws.conn
	wsConns map[string]*safeWS

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[string]*safeWS, 10),
	}
}

func (w *wsConnectionRepository) Add(userID string, conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wsConns[userID] = &safeWS{conn: conn}

	metric.IncrementWSActiveConnections()
}

func (w *wsConnectionRepository) Remove(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.wsConns[userID]; exists {
		delete(w.wsConns, userID)

		metric.DecrementWSActiveConnections()
	}
}

func (w *wsConnectionRepository) Write(userID string, payload any) {
	safews, ok := w.getSafeWS(userID)
	if !ok {
		return
	}

	safews.mu.Lock()
	defer safews.mu.Unlock()

	err := safews.conn.WriteJSON(payload)
	if err != nil {
		slog.Error(
			"write to websocket",
			slog.Any(constant.Error, err),
			slog.String(constant.UserID, userID),
		)
		return
	}
}

func (w *wsConnectionRepository) Rename(oldID, newID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, ok := w.wsConns[oldID]
	if !ok {
		return
	}

	delete(w.wsConns, oldID)
	w.wsConns[newID] = conn
}

func (w *wsConnectionRepository) Connected(userID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, ok := w.wsConns[userID]
	return ok
}

func (w *wsConnectionRepository) getSafeWS(userID string) (*safeWS, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	conn, ok := w.wsConns[userID]
	return conn, ok
}
