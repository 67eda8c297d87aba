package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Типы встроенных кадров data-канала. Всё остальное - прикладные данные,
// отдаются приложению как есть.
const (
	MsgPing = "ping"
	MsgPong = "pong"
)

// Message - кадр data-канала: msgpack-конверт с типом и непрозрачным
// payload.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: t, Payload: b}, nil
}

func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

func encodeMessage(m Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

type pingPayload struct {
	Seq uint64 `msgpack:"seq"`
}

// Виды сигнальных payload, пересылаемых через signal-сообщения.
const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)

// signalPayload - содержимое events.Signal.Data: SDP либо ICE-кандидат.
type signalPayload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func marshalSDP(desc *webrtc.SessionDescription) (json.RawMessage, error) {
	return json.Marshal(signalPayload{Type: desc.Type.String(), SDP: desc.SDP})
}

func marshalCandidate(c *webrtc.ICECandidate) (json.RawMessage, error) {
	init := c.ToJSON()
	return json.Marshal(signalPayload{Type: signalCandidate, Candidate: &init})
}
