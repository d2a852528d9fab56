// Package realtime is a thin, typed wrapper over the outbound realtime model
// WebSocket: session update, response create, audio append, truncate,
// tool-output injection, cancel. Shape adapted from an OpenAI Realtime API
// client, generalized to a two-phase session update and a tenant-built tool
// schema.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline  = 120 * time.Second
	pingInterval  = 30 * time.Second
	dialerTimeout = 10 * time.Second
)

// Client manages one WebSocket connection to the realtime model for the
// lifetime of a single call.
type Client struct {
	url    string
	apiKey string
	model  string

	ws   *websocket.Conn
	wsMu sync.Mutex

	closed bool

	// Callbacks, invoked from the read loop goroutine.
	OnSessionUpdated     func()
	OnSpeechStarted      func()
	OnSpeechStopped      func()
	OnAudioDelta         func(base64Audio string)
	OnAudioDone          func()
	OnOutputItemAdded    func(itemID, role, itemType string)
	OnUserTranscript     func(text string)
	OnAssistantTranscript func(text string, isFinal bool)
	OnResponseDone       func(assistantText string, functionCalls []FunctionCall)
	OnError              func(code string, class ErrorClass, message string)
	OnReadError          func(err error)
}

// NewClient creates a client bound to the given model endpoint and API key.
func NewClient(url, apiKey, model string) *Client {
	return &Client{url: url, apiKey: apiKey, model: model}
}

// Connect dials the model WebSocket and starts the read loop and keepalive
// pinger. It returns once the TCP/TLS handshake and protocol upgrade succeed;
// it does not wait for session.created.
func (c *Client) Connect() error {
	dialURL := fmt.Sprintf("%s?model=%s", c.url, c.model)

	header := map[string][]string{
		"Authorization": {"Bearer " + c.apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialerTimeout}

	ws, _, err := dialer.Dial(dialURL, header)
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", err)
	}
	c.ws = ws

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	ws.SetReadDeadline(time.Now().Add(readDeadline))

	go c.readLoop()
	go c.keepAlive()

	return nil
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if c.closed {
			return
		}
		c.wsMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
		c.wsMu.Unlock()
		if err != nil {
			return
		}
	}
}

// SendSessionUpdate sends session.update for the given phase. Greeting phase
// disables self-triggered responses and interruption handling; normal phase
// enables both.
func (c *Client) SendSessionUpdate(cfg SessionConfig, phase SessionPhase) error {
	createResponse := phase == PhaseNormal
	interruptResponse := phase == PhaseNormal

	msg := map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"instructions":        cfg.Instructions,
			"voice":               cfg.Voice,
			"modalities":          []string{"text", "audio"},
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"create_response":     createResponse,
				"interrupt_response":  interruptResponse,
			},
			"tools": []map[string]interface{}{
				{
					"type":        "function",
					"name":        cfg.ToolName,
					"description": "Finalize a reservation once the caller has confirmed all collected details.",
					"parameters":  cfg.ToolSchema,
				},
			},
			"tool_choice": "auto",
		},
	}

	return c.send(msg)
}

// SendResponseCreate requests a new response. instructions is non-empty only
// for the initial greeting trigger; subsequent calls (tool-call continuation)
// inherit session instructions.
func (c *Client) SendResponseCreate(instructions string) error {
	response := map[string]interface{}{}
	if instructions != "" {
		response["instructions"] = instructions
	}

	msg := map[string]interface{}{
		"type":     "response.create",
		"response": response,
	}
	return c.send(msg)
}

// AppendAudio forwards a base64 µ-law chunk from the carrier unmodified.
func (c *Client) AppendAudio(base64Audio string) error {
	return c.send(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64Audio,
	})
}

// Truncate sends conversation.item.truncate on a confirmed barge-in.
func (c *Client) Truncate(itemID string, audioEndMs int) error {
	return c.send(map[string]interface{}{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMs,
	})
}

// SendFunctionCallOutput injects the Finalizer's JSON-encoded result and
// triggers a follow-up response so the model can speak the outcome.
func (c *Client) SendFunctionCallOutput(callID, resultJSON string) error {
	if err := c.send(map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  resultJSON,
		},
	}); err != nil {
		return err
	}

	return c.SendResponseCreate("")
}

// CancelResponse requests cancellation of the in-flight response.
func (c *Client) CancelResponse() error {
	return c.send(map[string]interface{}{"type": "response.cancel"})
}

// Close closes the underlying WebSocket. Idempotent.
func (c *Client) Close() {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.ws != nil {
		c.ws.Close()
	}
}

func (c *Client) send(v interface{}) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil || c.closed {
		return fmt.Errorf("realtime: not connected")
	}
	return c.ws.WriteJSON(v)
}

func (c *Client) readLoop() {
	for {
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed && c.OnReadError != nil {
				c.OnReadError(err)
			}
			return
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		msgType, _ := msg["type"].(string)
		c.dispatch(msgType, msg)
	}
}

func (c *Client) dispatch(msgType string, msg map[string]interface{}) {
	switch msgType {
	case "session.updated":
		if c.OnSessionUpdated != nil {
			c.OnSessionUpdated()
		}

	case "input_audio_buffer.speech_started":
		if c.OnSpeechStarted != nil {
			c.OnSpeechStarted()
		}

	case "input_audio_buffer.speech_stopped":
		if c.OnSpeechStopped != nil {
			c.OnSpeechStopped()
		}

	case "response.output_item.added":
		item, _ := msg["item"].(map[string]interface{})
		itemID, _ := item["id"].(string)
		role, _ := item["role"].(string)
		itemType, _ := item["type"].(string)
		if c.OnOutputItemAdded != nil {
			c.OnOutputItemAdded(itemID, role, itemType)
		}

	case "response.audio.delta", "response.output_audio.delta":
		if delta, ok := msg["delta"].(string); ok && c.OnAudioDelta != nil {
			c.OnAudioDelta(delta)
		}

	case "response.audio.done", "response.output_audio.done":
		if c.OnAudioDone != nil {
			c.OnAudioDone()
		}

	case "response.audio_transcript.delta":
		if delta, ok := msg["delta"].(string); ok && c.OnAssistantTranscript != nil {
			c.OnAssistantTranscript(delta, false)
		}

	case "conversation.item.input_audio_transcription.completed":
		transcript, _ := msg["transcript"].(string)
		if transcript != "" && c.OnUserTranscript != nil {
			c.OnUserTranscript(transcript)
		}

	case "response.done":
		c.handleResponseDone(msg)

	case "error":
		c.handleError(msg)
	}
}

func (c *Client) handleResponseDone(msg map[string]interface{}) {
	response, _ := msg["response"].(map[string]interface{})
	items, _ := response["output"].([]interface{})

	var assistantText string
	var calls []FunctionCall

	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		itemType, _ := item["type"].(string)

		switch itemType {
		case "message":
			role, _ := item["role"].(string)
			if role != "assistant" {
				continue
			}
			contents, _ := item["content"].([]interface{})
			for _, rawContent := range contents {
				content, ok := rawContent.(map[string]interface{})
				if !ok {
					continue
				}
				if transcript, ok := content["transcript"].(string); ok && transcript != "" {
					assistantText += transcript
				}
			}

		case "function_call":
			callID, _ := item["call_id"].(string)
			name, _ := item["name"].(string)
			args, _ := item["arguments"].(string)
			calls = append(calls, FunctionCall{CallID: callID, Name: name, Arguments: args})
		}
	}

	if c.OnResponseDone != nil {
		c.OnResponseDone(assistantText, calls)
	}
}

func (c *Client) handleError(msg map[string]interface{}) {
	errData, _ := msg["error"].(map[string]interface{})
	code, _ := errData["code"].(string)
	message, _ := errData["message"].(string)

	class := ClassifyError(code)
	if c.OnError != nil {
		c.OnError(code, class, message)
	}
}
