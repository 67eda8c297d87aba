package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qrave1/voicelink/internal/application/constant"
	"github.com/qrave1/voicelink/internal/domain/events"
)

const (
	connectTimeout = 8 * time.Second
	requestTimeout = 5 * time.Second

	maxReconnectAttempts = 5

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	maxMessageSize = 64 * 1024
)

var (
	ErrClosed         = errors.New("signaling client closed")
	ErrNotConnected   = errors.New("not connected to signaling server")
	ErrRequestTimeout = errors.New("signaling request timed out")
)

// ReconnectDelay возвращает задержку перед attempt-й попыткой переподключения:
// экспоненциальный backoff с потолком 10 секунд.
func ReconnectDelay(attempt int) time.Duration {
	delay := time.Second << attempt
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	return delay
}

// Disconnected - локальное событие: соединение неожиданно закрылось после
// успешного подключения, начинаются попытки переподключения.
type Disconnected struct{}

// ReconnectExhausted - фатальное локальное событие: все попытки
// переподключения исчерпаны, клиент больше не пытается.
type ReconnectExhausted struct {
	Err error
}

// Event - одно из серверных событий (*events.UserJoined, *events.UserLeft,
// *events.Signal, *events.UserSpeaking, *events.RoomJoined, *events.RoomLeft,
// *events.RoomClosed, *events.Error) либо локальное Disconnected /
// ReconnectExhausted.
type Event any

// RoomInfo - результат create-room / join-room.
type RoomInfo struct {
	ID    string
	Name  string
	Users []events.RoomUser
}

// JoinOptions уточняет join-room запрос.
type JoinOptions struct {
	Create   bool
	Password string
}

type requestKind int

const (
	kindCreateRoom requestKind = iota
	kindJoinRoom
)

type requestResult struct {
	room RoomInfo
	err  error
}

// pendingRequest - одноразовый слушатель ответа на create-room / join-room,
// ключ - локальный корреляционный id.
type pendingRequest struct {
	id      string
	kind    requestKind
	created time.Time
	ch      chan requestResult
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client держит одно логическое дуплексное соединение с сигнальным
// сервером: hello-рукопожатие, корреляция запрос/ответ и автоматическое
// переподключение с backoff.
type Client struct {
	url      string
	userID   string
	userName string

	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool // hello-ack получен
	closed       bool
	attempt      *connectAttempt
	reconnecting bool
	pending      map[string]*pendingRequest

	events chan Event
	done   chan struct{}

	// переопределяются в тестах
	reconnectDelay func(attempt int) time.Duration
	maxReconnects  int
	requestWait    time.Duration
}

type Options struct {
	URL      string
	UserID   string
	UserName string
}

func NewClient(opts Options) *Client {
	userID := opts.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	userName := opts.UserName
	if userName == "" {
		// сервер не регистрирует безымянных
		userName = "user-" + userID
	}

	return &Client{
		url:      opts.URL,
		userID:   userID,
		userName: userName,
		dialer:   websocket.DefaultDialer,
		pending:  make(map[string]*pendingRequest),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),

		reconnectDelay: ReconnectDelay,
		maxReconnects:  maxReconnectAttempts,
		requestWait:    requestTimeout,
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// Events - серверные и локальные события для приложения.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect устанавливает соединение и завершается только после hello-ack,
// с общим таймаутом в 8 секунд. Идемпотентен: конкурентные вызовы во время
// текущей попытки разделяют её исход.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.attempt == nil {
		c.attempt = &connectAttempt{done: make(chan struct{})}
		go c.runConnect(c.attempt)
	}
	attempt := c.attempt
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-attempt.done:
		return attempt.err
	}
}

func (c *Client) runConnect(attempt *connectAttempt) {
	finish := func(err error) {
		c.mu.Lock()
		if c.attempt == attempt {
			c.attempt = nil
		}
		c.mu.Unlock()

		attempt.err = err
		close(attempt.done)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		finish(fmt.Errorf("dial signaling server: %w", err))
		return
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	hello := events.Hello{Type: events.TypeHello, UserID: c.userID, UserName: c.userName}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		finish(fmt.Errorf("send hello: %w", err))
		return
	}

	acked := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn, acked)

	select {
	case <-acked:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		finish(nil)
	case <-dialCtx.Done():
		conn.Close()
		finish(fmt.Errorf("wait hello-ack: %w", dialCtx.Err()))
	case <-c.done:
		conn.Close()
		finish(ErrClosed)
	}
}

func (c *Client) readLoop(conn *websocket.Conn, acked chan struct{}) {
	ackOnce := sync.Once{}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn)
			return
		}

		msg, ok := events.Parse(raw)
		if !ok {
			continue
		}

		switch m := msg.(type) {
		case *events.HelloAck:
			ackOnce.Do(func() { close(acked) })

		case *events.RoomCreated:
			if !c.settlePending(kindCreateRoom, requestResult{room: RoomInfo{ID: m.RoomID, Name: m.RoomName}}) {
				c.emit(m)
			}

		case *events.RoomJoined:
			c.settlePending(kindJoinRoom, requestResult{room: RoomInfo{ID: m.RoomID, Name: m.RoomName, Users: m.Users}})
			c.emit(m)

		case *events.Error:
			err := fmt.Errorf("signaling error %s: %s", m.Code, m.Message)
			if !c.settleAnyPending(requestResult{err: err}) {
				c.emit(m)
			}

		default:
			c.emit(msg)
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// устаревший read loop от предыдущего соединения
		c.mu.Unlock()
		return
	}

	wasConnected := c.connected
	closed := c.closed
	c.conn = nil
	c.connected = false

	for id, p := range c.pending {
		delete(c.pending, id)
		p.ch <- requestResult{err: ErrNotConnected}
	}

	startReconnect := wasConnected && !closed && !c.reconnecting
	if startReconnect {
		c.reconnecting = true
	}
	c.mu.Unlock()

	if !wasConnected || closed {
		return
	}

	c.emit(Disconnected{})

	if startReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop перебирает попытки переподключения с экспоненциальной
// задержкой. Успех сбрасывает счётчик (следующий обрыв начнёт заново с
// первой задержки); исчерпание попыток - фатальное событие.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 0; attempt < c.maxReconnects; attempt++ {
		delay := c.reconnectDelay(attempt)

		slog.Debug(
			"scheduling signaling reconnect",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		err := c.Connect(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}

		slog.Warn("signaling reconnect failed", slog.Any(constant.Error, err))
	}

	c.emit(ReconnectExhausted{Err: fmt.Errorf("reconnect attempts exhausted after %d tries", c.maxReconnects)})
}

// CreateRoom отправляет create-room и ждёт room-created не дольше 5 секунд.
func (c *Client) CreateRoom(ctx context.Context, name string) (RoomInfo, error) {
	if err := c.Connect(ctx); err != nil {
		return RoomInfo{}, err
	}

	return c.request(ctx, kindCreateRoom, events.CreateRoom{Type: events.TypeCreateRoom, Name: name})
}

// JoinRoom отправляет join-room и ждёт room-joined не дольше 5 секунд.
func (c *Client) JoinRoom(ctx context.Context, roomID string, opts JoinOptions) (RoomInfo, error) {
	if err := c.Connect(ctx); err != nil {
		return RoomInfo{}, err
	}

	return c.request(ctx, kindJoinRoom, events.JoinRoom{
		Type:     events.TypeJoinRoom,
		RoomID:   roomID,
		Create:   opts.Create,
		Password: opts.Password,
	})
}

func (c *Client) request(ctx context.Context, kind requestKind, payload any) (RoomInfo, error) {
	p := &pendingRequest{
		id:      uuid.NewString(),
		kind:    kind,
		created: time.Now(),
		ch:      make(chan requestResult, 1),
	}

	c.mu.Lock()
	c.pending[p.id] = p
	c.mu.Unlock()

	if err := c.send(payload); err != nil {
		c.removePending(p.id)
		return RoomInfo{}, err
	}

	timer := time.NewTimer(c.requestWait)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		return res.room, res.err
	case <-timer.C:
		c.removePending(p.id)
		return RoomInfo{}, ErrRequestTimeout
	case <-ctx.Done():
		c.removePending(p.id)
		return RoomInfo{}, ctx.Err()
	}
}

// Leave отправляет leave-room. Подтверждение (room-left) придёт событием.
func (c *Client) Leave() error {
	return c.send(events.LeaveRoom{Type: events.TypeLeaveRoom})
}

// SendSignal пересылает непрозрачные данные рукопожатия адресату.
// Fire-and-forget: при закрытом соединении молча пропадает.
func (c *Client) SendSignal(to string, data json.RawMessage) {
	_ = c.send(events.Signal{Type: events.TypeSignal, To: to, Data: data})
}

// SendSpeaking - fire-and-forget индикация речи.
func (c *Client) SendSpeaking(speaking bool, volumeDb *float64) {
	_ = c.send(events.Speaking{Type: events.TypeSpeaking, Speaking: speaking, VolumeDb: volumeDb})
}

func (c *Client) send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(payload)
}

// Close окончательно закрывает клиент; переподключений после него нет.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false

	for id, p := range c.pending {
		delete(c.pending, id)
		p.ch <- requestResult{err: ErrClosed}
	}
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		conn.Close()
	}
}

// settlePending отдаёт результат самому старому ожидающему запросу данного
// вида.
func (c *Client) settlePending(kind requestKind, res requestResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldest *pendingRequest
	for _, p := range c.pending {
		if p.kind != kind {
			continue
		}
		if oldest == nil || p.created.Before(oldest.created) {
			oldest = p
		}
	}
	if oldest == nil {
		return false
	}

	delete(c.pending, oldest.id)
	oldest.ch <- res
	return true
}

func (c *Client) settleAnyPending(res requestResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldest *pendingRequest
	for _, p := range c.pending {
		if oldest == nil || p.created.Before(oldest.created) {
			oldest = p
		}
	}
	if oldest == nil {
		return false
	}

	delete(c.pending, oldest.id)
	oldest.ch <- res
	return true
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
