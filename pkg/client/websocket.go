package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsEventBuffer = 256

// Event is a server event received over the WebSocket stream
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// WebSocketClient consumes the /ws event stream
type WebSocketClient struct {
	url       string
	apiKey    string
	conn      *websocket.Conn
	events    chan *Event
	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

func newWebSocketClient(baseURL, apiKey string) *WebSocketClient {
	wsURL := strings.Replace(baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	return &WebSocketClient{
		url:    wsURL + "/ws",
		apiKey: apiKey,
		events: make(chan *Event, wsEventBuffer),
	}
}

// Connect dials the server and starts the read loop
func (w *WebSocketClient) Connect(ctx context.Context) error {
	header := http.Header{}
	if w.apiKey != "" {
		header.Set("X-API-Key", w.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, header)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	go w.readLoop()
	return nil
}

// IsConnected reports whether the connection is live
func (w *WebSocketClient) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Events returns the event channel; closed when the connection drops
func (w *WebSocketClient) Events() <-chan *Event {
	return w.events
}

// Close tears down the connection
func (w *WebSocketClient) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.connected = false
		conn := w.conn
		w.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = conn.Close()
		}
	})
	return err
}

func (w *WebSocketClient) readLoop() {
	defer func() {
		w.mu.Lock()
		w.connected = false
		w.mu.Unlock()
		close(w.events)
	}()

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			return
		}

		// The hub batches queued events into one frame separated by newlines
		scanner := bufio.NewScanner(bytes.NewReader(message))
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			select {
			case w.events <- &ev:
			default:
				// Consumer not draining; drop rather than block the read loop
			}
		}
	}
}
