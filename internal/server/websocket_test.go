package server

import (
	"encoding/binary"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UpperMoon0/Echo/internal/config"
	"github.com/UpperMoon0/Echo/internal/segmenter"
)

// pcmFrame builds a PCM-16 binary frame of n samples at the given amplitude
func pcmFrame(n int, amplitude float64) []byte {
	value := int16(amplitude * 32767)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return data
}

func TestWebSocketStreamingEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping real-time streaming test in short mode")
	}

	// Tight silence thresholds so the test completes quickly
	cfg := config.Default()
	cfg.Segmenter.ShortSilenceDuration = 0.2
	cfg.Segmenter.LongSilenceDuration = 0.5
	cfg.Audio.PollInterval = 0.05

	s := newTestServerWithConfig(t, cfg, &fakeTranscriber{})

	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/transcribe?client_id=ws-test"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close()

	// Speech, then silence to open a silence run
	if err := conn.WriteMessage(websocket.BinaryMessage, pcmFrame(1600, 0.5)); err != nil {
		t.Fatalf("Failed to send speech frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, pcmFrame(1600, 0.0)); err != nil {
		t.Fatalf("Failed to send silence frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first segmenter.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("Failed to read first event: %v", err)
	}

	if first.Type != segmenter.EventInterim {
		t.Errorf("Expected first event interim, got %s", first.Type)
	}
	if first.Text != "buffered text" {
		t.Errorf("Expected text 'buffered text', got %q", first.Text)
	}
	if first.ClientID != "ws-test" {
		t.Errorf("Expected client_id ws-test, got %s", first.ClientID)
	}

	var second segmenter.Event
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("Failed to read second event: %v", err)
	}

	if second.Type != segmenter.EventFinal {
		t.Errorf("Expected second event final, got %s", second.Type)
	}
}

func TestWebSocketDisconnectRemovesSession(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/transcribe?client_id=ephemeral"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}

	// Session exists while connected
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, exists := s.sessions.GetSession("ephemeral"); exists {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Session was never created for the WebSocket client")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	// Session is torn down after disconnect
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, exists := s.sessions.GetSession("ephemeral"); !exists {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Session was not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
