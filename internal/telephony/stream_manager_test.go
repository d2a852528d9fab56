package telephony

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	var serverConn *Conn
	ready := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade() failed: %v", err)
			return
		}
		serverConn = c
		close(ready)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server never upgraded connection")
	}

	return serverConn, clientConn
}

func TestReadEvent_Start(t *testing.T) {
	server, client := newTestPair(t)

	err := client.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid": "MZ123",
			"callSid":   "CA123",
			"customParameters": map[string]interface{}{
				"tenant_id": "tenant1",
			},
		},
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev, err := server.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() failed: %v", err)
	}
	if ev.Event != "start" || ev.StreamSid != "MZ123" || ev.CallSid != "CA123" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Params["tenant_id"] != "tenant1" {
		t.Errorf("expected tenant_id param, got %v", ev.Params)
	}
}

func TestReadEvent_MediaDecodesPayload(t *testing.T) {
	server, client := newTestPair(t)

	raw := make([]byte, 160)
	for i := range raw {
		raw[i] = 0xFF
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	err := client.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{"payload": encoded},
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev, err := server.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() failed: %v", err)
	}
	if len(ev.Payload) != 160 {
		t.Fatalf("expected 160 decoded bytes, got %d", len(ev.Payload))
	}
}

func TestReadEvent_UnknownEventErrors(t *testing.T) {
	server, client := newTestPair(t)

	if err := client.WriteJSON(map[string]interface{}{"event": "bogus"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := server.ReadEvent(); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestSendMedia_ClearAndMark(t *testing.T) {
	server, client := newTestPair(t)

	if err := client.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{"streamSid": "MZ1"},
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := server.ReadEvent(); err != nil {
		t.Fatalf("ReadEvent() failed: %v", err)
	}

	if err := server.SendMedia("abc"); err != nil {
		t.Fatalf("SendMedia() failed: %v", err)
	}
	var msg map[string]interface{}
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if msg["event"] != "media" || msg["streamSid"] != "MZ1" {
		t.Errorf("unexpected media frame: %+v", msg)
	}

	if err := server.SendClear(); err != nil {
		t.Fatalf("SendClear() failed: %v", err)
	}
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if msg["event"] != "clear" {
		t.Errorf("unexpected clear frame: %+v", msg)
	}

	if err := server.SendMark("a:item:ms:300:seq:1"); err != nil {
		t.Fatalf("SendMark() failed: %v", err)
	}
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if msg["event"] != "mark" {
		t.Errorf("unexpected mark frame: %+v", msg)
	}
}
