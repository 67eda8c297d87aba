package peer

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// LinkState - жизненный цикл связи с одним пиром.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkSignaling
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkSignaling:
		return "signaling"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkStats - последний снимок счётчиков транспорта, измеренный RTT и доля
// потерянных ping-кадров.
type LinkStats struct {
	BytesSent     uint64
	BytesReceived uint64
	RTT           time.Duration
	PacketLoss    float64
}

// pingExpiry - сколько ждём pong, прежде чем считать ping потерянным.
const pingExpiry = 15 * time.Second

// Link - одно peer-соединение: pion PeerConnection, его data-канал и
// состояние. Инициатор определяется детерминированно снаружи.
type Link struct {
	peerID    string
	initiator bool

	pc *webrtc.PeerConnection

	mu           sync.Mutex
	state        LinkState
	dc           *webrtc.DataChannel
	connectTimer *time.Timer
	stats        LinkStats
	pingSeq      uint64
	pingSent     map[uint64]time.Time
	pingsTotal   uint64
	pingsLost    uint64
}

func (l *Link) PeerID() string {
	return l.peerID
}

func (l *Link) Initiator() bool {
	return l.initiator
}

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// markConnected переводит связь в Connected и снимает таймер установления.
// false, если связь уже закрыта.
func (l *Link) markConnected(dc *webrtc.DataChannel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LinkClosed {
		return false
	}

	l.state = LinkConnected
	l.dc = dc
	if l.connectTimer != nil {
		l.connectTimer.Stop()
		l.connectTimer = nil
	}

	return true
}

// markClosed финализирует связь. Возвращает предыдущее состояние, чтобы
// вызывающий знал, была ли она подключена.
func (l *Link) markClosed() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state
	l.state = LinkClosed
	if l.connectTimer != nil {
		l.connectTimer.Stop()
		l.connectTimer = nil
	}

	return prev
}

func (l *Link) channel() *webrtc.DataChannel {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkConnected {
		return nil
	}
	return l.dc
}

// nextPing выдаёт номер очередного ping-кадра и запоминает время отправки.
// Заодно списывает в потери кадры, на которые pong так и не пришёл.
func (l *Link) nextPing(now time.Time) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	for seq, sent := range l.pingSent {
		if now.Sub(sent) >= pingExpiry {
			delete(l.pingSent, seq)
			l.pingsLost++
		}
	}

	l.pingSeq++
	if l.pingSent == nil {
		l.pingSent = make(map[uint64]time.Time)
	}
	l.pingSent[l.pingSeq] = now
	l.pingsTotal++
	l.stats.PacketLoss = float64(l.pingsLost) / float64(l.pingsTotal)

	return l.pingSeq
}

// recordPong сопоставляет pong с отправленным ping и обновляет RTT.
func (l *Link) recordPong(seq uint64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sent, ok := l.pingSent[seq]
	if !ok {
		return
	}
	delete(l.pingSent, seq)

	l.stats.RTT = now.Sub(sent)
}

// updateTransportStats обновляет байтовые счётчики и ICE RTT из отчёта
// GetStats. Отсутствующие метрики оставляют прежние значения.
func (l *Link) updateTransportStats(report webrtc.StatsReport) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range report {
		switch stat := s.(type) {
		case webrtc.TransportStats:
			l.stats.BytesSent = stat.BytesSent
			l.stats.BytesReceived = stat.BytesReceived
		case webrtc.ICECandidatePairStats:
			if stat.State == webrtc.StatsICECandidatePairStateSucceeded && stat.CurrentRoundTripTime > 0 {
				l.stats.RTT = time.Duration(stat.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}
}
