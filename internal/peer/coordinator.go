package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/voicelink/internal/application/constant"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultStatsInterval  = 5 * time.Second

	dataChannelLabel = "control"
)

// SignalSender доставляет исходящие SDP/ICE адресату через сигнальный
// сервер. Реализуется сигнальным клиентом.
type SignalSender interface {
	SendSignal(to string, data json.RawMessage)
}

// События координатора для приложения.
type (
	// PeerConnected - data-канал с пиром открыт.
	PeerConnected struct{ PeerID string }

	// PeerDisconnected - установленная связь оборвалась или закрыта.
	PeerDisconnected struct{ PeerID string }

	// ConnectTimeout - связь не установилась за отведённое время и
	// принудительно закрыта.
	ConnectTimeout struct{ PeerID string }

	// DataMessage - прикладной кадр от пира.
	DataMessage struct {
		PeerID string
		Msg    Message
	}
)

type Event any

// Coordinator поддерживает по одному peer-соединению на каждого участника
// комнаты. Инициатор пары выбирается детерминированно: инициирует сторона
// с лексикографически меньшим id, поэтому одновременный вход двух участников
// не порождает встречных offer.
type Coordinator struct {
	localID    string
	sender     SignalSender
	iceServers []webrtc.ICEServer

	connectTimeout time.Duration
	statsInterval  time.Duration

	mu    sync.Mutex
	links map[string]*Link

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewCoordinator(localID string, sender SignalSender, iceServers []webrtc.ICEServer) *Coordinator {
	c := &Coordinator{
		localID:        localID,
		sender:         sender,
		iceServers:     iceServers,
		connectTimeout: defaultConnectTimeout,
		statsInterval:  defaultStatsInterval,
		links:          make(map[string]*Link),
		events:         make(chan Event, 64),
		done:           make(chan struct{}),
	}

	go c.statsLoop()

	return c
}

// Events - события жизненного цикла пиров и входящие кадры.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// EnsurePeer создаёт связь с пиром, если её ещё нет. Инициатор создаёт
// data-канал и отправляет offer; отвечающая сторона ждёт OnDataChannel.
func (c *Coordinator) EnsurePeer(peerID string) error {
	if peerID == c.localID {
		return nil
	}

	_, err := c.ensureLink(peerID, c.localID < peerID)
	return err
}

// HandleSignal маршрутизирует входящие SDP/ICE в связь с отправителем.
// Неизвестный отправитель означает, что инициирует он, поэтому связь
// создаётся отвечающей.
func (c *Coordinator) HandleSignal(from string, data json.RawMessage) error {
	var payload signalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse signal payload: %w", err)
	}

	link, err := c.ensureLink(from, false)
	if err != nil {
		return err
	}

	switch payload.Type {
	case signalOffer:
		return c.handleOffer(link, payload.SDP)
	case signalAnswer:
		return link.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  payload.SDP,
		})
	case signalCandidate:
		if payload.Candidate == nil {
			return nil
		}
		return link.pc.AddICECandidate(*payload.Candidate)
	default:
		return fmt.Errorf("unexpected signal payload type %q", payload.Type)
	}
}

func (c *Coordinator) handleOffer(link *Link, sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	data, err := marshalSDP(link.pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	c.sender.SendSignal(link.peerID, data)

	return nil
}

// Send отправляет кадр одному пиру. Best-effort: false, если связь не
// подключена или отправка не удалась.
func (c *Coordinator) Send(peerID string, msg Message) bool {
	c.mu.Lock()
	link := c.links[peerID]
	c.mu.Unlock()

	if link == nil {
		return false
	}

	return c.sendOnLink(link, msg)
}

// Broadcast отправляет кадр всем подключённым пирам и возвращает число
// успешных отправок.
func (c *Coordinator) Broadcast(msg Message) int {
	c.mu.Lock()
	links := make([]*Link, 0, len(c.links))
	for _, link := range c.links {
		links = append(links, link)
	}
	c.mu.Unlock()

	sent := 0
	for _, link := range links {
		if c.sendOnLink(link, msg) {
			sent++
		}
	}

	return sent
}

func (c *Coordinator) sendOnLink(link *Link, msg Message) bool {
	dc := link.channel()
	if dc == nil {
		return false
	}

	data, err := encodeMessage(msg)
	if err != nil {
		return false
	}

	return dc.Send(data) == nil
}

// Peers - id пиров с установленной связью.
func (c *Coordinator) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := make([]string, 0, len(c.links))
	for id, link := range c.links {
		if link.State() == LinkConnected {
			peers = append(peers, id)
		}
	}

	return peers
}

// Stats возвращает последний снимок статистики связи с пиром.
func (c *Coordinator) Stats(peerID string) (LinkStats, bool) {
	c.mu.Lock()
	link := c.links[peerID]
	c.mu.Unlock()

	if link == nil {
		return LinkStats{}, false
	}

	return link.Stats(), true
}

// ClosePeer разрывает связь с одним пиром.
func (c *Coordinator) ClosePeer(peerID string) {
	c.mu.Lock()
	link := c.links[peerID]
	delete(c.links, peerID)
	c.mu.Unlock()

	if link != nil {
		c.teardown(link, true)
	}
}

// Close разрывает все связи и останавливает координатор. Вызывается при
// выходе из комнаты.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		links := make([]*Link, 0, len(c.links))
		for _, link := range c.links {
			links = append(links, link)
		}
		c.links = make(map[string]*Link)
		c.mu.Unlock()

		for _, link := range links {
			c.teardown(link, false)
		}

		close(c.done)
	})
}

func (c *Coordinator) ensureLink(peerID string, initiator bool) (*Link, error) {
	c.mu.Lock()
	if link, ok := c.links[peerID]; ok {
		c.mu.Unlock()
		return link, nil
	}
	c.mu.Unlock()

	link, err := c.createLink(peerID, initiator)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.links[peerID]; ok {
		// гонка с конкурентным созданием, оставляем первую связь
		c.mu.Unlock()
		link.markClosed()
		link.pc.Close()
		return existing, nil
	}
	c.links[peerID] = link
	c.mu.Unlock()

	slog.Info(
		"peer link created",
		slog.String(constant.PeerID, peerID),
		slog.Bool("initiator", initiator),
	)

	return link, nil
}

func (c *Coordinator) createLink(peerID string, initiator bool) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := &Link{
		peerID:    peerID,
		initiator: initiator,
		pc:        pc,
		state:     LinkSignaling,
	}
	link.connectTimer = time.AfterFunc(c.connectTimeout, func() {
		c.onConnectTimeout(link)
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}

		data, err := marshalCandidate(cand)
		if err != nil {
			return
		}
		c.sender.SendSignal(peerID, data)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			c.onLinkDown(link)
		}
	})

	if initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		c.setupChannel(link, dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			pc.Close()
			return nil, fmt.Errorf("set local offer: %w", err)
		}

		data, err := marshalSDP(pc.LocalDescription())
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("marshal offer: %w", err)
		}
		c.sender.SendSignal(peerID, data)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			c.setupChannel(link, dc)
		})
	}

	return link, nil
}

func (c *Coordinator) setupChannel(link *Link, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		if !link.markConnected(dc) {
			return
		}

		slog.Info("peer connected", slog.String(constant.PeerID, link.peerID))
		c.emit(PeerConnected{PeerID: link.peerID})
	})

	dc.OnClose(func() {
		c.onLinkDown(link)
	})

	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		msg, err := decodeMessage(raw.Data)
		if err != nil {
			return
		}

		switch msg.Type {
		case MsgPing:
			var p pingPayload
			if msg.DecodePayload(&p) != nil {
				return
			}
			if pong, err := NewMessage(MsgPong, p); err == nil {
				c.sendOnLink(link, pong)
			}
		case MsgPong:
			var p pingPayload
			if msg.DecodePayload(&p) != nil {
				return
			}
			link.recordPong(p.Seq, time.Now())
		default:
			c.emit(DataMessage{PeerID: link.peerID, Msg: msg})
		}
	})
}

func (c *Coordinator) onConnectTimeout(link *Link) {
	c.mu.Lock()
	if c.links[link.peerID] != link {
		c.mu.Unlock()
		return
	}
	delete(c.links, link.peerID)
	c.mu.Unlock()

	prev := link.markClosed()
	link.pc.Close()

	if prev == LinkConnected {
		// таймер сработал в гонке с подключением, считаем обрывом
		c.emit(PeerDisconnected{PeerID: link.peerID})
		return
	}

	slog.Warn("peer connect timeout", slog.String(constant.PeerID, link.peerID))
	c.emit(ConnectTimeout{PeerID: link.peerID})
}

func (c *Coordinator) onLinkDown(link *Link) {
	c.mu.Lock()
	tracked := c.links[link.peerID] == link
	if tracked {
		delete(c.links, link.peerID)
	}
	c.mu.Unlock()

	prev := link.markClosed()
	link.pc.Close()

	if tracked && prev == LinkConnected {
		slog.Info("peer disconnected", slog.String(constant.PeerID, link.peerID))
		c.emit(PeerDisconnected{PeerID: link.peerID})
	}
}

func (c *Coordinator) teardown(link *Link, emitEvent bool) {
	prev := link.markClosed()
	link.pc.Close()

	if emitEvent && prev == LinkConnected {
		c.emit(PeerDisconnected{PeerID: link.peerID})
	}
}

// statsLoop периодически снимает статистику транспорта и меряет
// прикладной RTT ping-кадрами по всем подключённым связям.
func (c *Coordinator) statsLoop() {
	ticker := time.NewTicker(c.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		links := make([]*Link, 0, len(c.links))
		for _, link := range c.links {
			links = append(links, link)
		}
		c.mu.Unlock()

		now := time.Now()
		for _, link := range links {
			if link.State() != LinkConnected {
				continue
			}

			link.updateTransportStats(link.pc.GetStats())

			seq := link.nextPing(now)
			if ping, err := NewMessage(MsgPing, pingPayload{Seq: seq}); err == nil {
				c.sendOnLink(link, ping)
			}
		}
	}
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
