// Package telephony parses a carrier's JSON media-stream envelope and emits
// the matching outbound frames, leaving all call semantics to internal/call.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// InboundEvent is one parsed carrier envelope message.
type InboundEvent struct {
	Event      string
	StreamSid  string
	CallSid    string
	AccountSid string
	Params     map[string]interface{} // customParameters from "start"
	Payload    []byte                 // decoded µ-law audio, for "media"
	MarkName   string                 // for "mark"
}

type envelope struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type startPayload struct {
	AccountSid       string                 `json:"accountSid"`
	CallSid          string                 `json:"callSid"`
	StreamSid        string                 `json:"streamSid"`
	CustomParameters map[string]interface{} `json:"customParameters,omitempty"`
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
	StreamSid  string `json:"streamSid"`
}

// Conn wraps a single carrier WebSocket connection: parsing inbound frames
// and writing the three outbound frame shapes the adapter is allowed to emit.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	streamSid string
}

// Upgrade promotes an HTTP request to a carrier media-stream WebSocket.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: upgrade: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// ReadEvent blocks for the next carrier message and parses it. Malformed
// JSON or an unrecognized event is a protocol error: the caller should log
// and continue rather than close the call.
func (c *Conn) ReadEvent() (InboundEvent, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return InboundEvent{}, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundEvent{}, fmt.Errorf("telephony: malformed envelope: %w", err)
	}

	out := InboundEvent{Event: env.Event, StreamSid: env.StreamSid}

	switch env.Event {
	case "connected":
		// no additional fields

	case "start":
		if env.Start != nil {
			out.StreamSid = env.Start.StreamSid
			out.CallSid = env.Start.CallSid
			out.AccountSid = env.Start.AccountSid
			out.Params = env.Start.CustomParameters
		}
		c.writeMu.Lock()
		c.streamSid = out.StreamSid
		c.writeMu.Unlock()

	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return InboundEvent{}, fmt.Errorf("telephony: media event missing payload")
		}
		decoded, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return InboundEvent{}, fmt.Errorf("telephony: decode media payload: %w", err)
		}
		out.Payload = decoded

	case "mark":
		if env.Mark != nil {
			out.MarkName = env.Mark.Name
		}

	case "stop":
		if env.Stop != nil {
			out.StreamSid = env.Stop.StreamSid
			out.CallSid = env.Stop.CallSid
			out.AccountSid = env.Stop.AccountSid
		}

	default:
		return InboundEvent{}, fmt.Errorf("telephony: unknown event %q", env.Event)
	}

	return out, nil
}

// SendMedia emits a media frame carrying a base64 µ-law delta from the
// model, tagged with the call's streamSid.
func (c *Conn) SendMedia(base64Audio string) error {
	return c.write(map[string]interface{}{
		"event":     "media",
		"streamSid": c.currentStreamSid(),
		"media": map[string]interface{}{
			"payload": base64Audio,
		},
	})
}

// SendClear emits a clear frame, dropping any queued carrier-side output
// audio (barge-in confirmed).
func (c *Conn) SendClear() error {
	return c.write(map[string]interface{}{
		"event":     "clear",
		"streamSid": c.currentStreamSid(),
	})
}

// SendMark emits a mark frame requesting a playback-position acknowledgement.
func (c *Conn) SendMark(name string) error {
	return c.write(map[string]interface{}{
		"event":     "mark",
		"streamSid": c.currentStreamSid(),
		"mark": map[string]interface{}{
			"name": name,
		},
	})
}

func (c *Conn) currentStreamSid() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.streamSid
}

func (c *Conn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Close closes the underlying WebSocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}
