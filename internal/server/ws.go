package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the wire form of one event on the websocket stream
type envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type wsConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	server    *HTTPServer
	closeOnce sync.Once
	done      chan struct{}
}

// handleEvents upgrades the connection and streams every bus event as a
// typed JSON envelope. Raw audio data events are not forwarded.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: h,
		done:   make(chan struct{}),
	}

	h.logger.Info("Event stream client connected", "remote", r.RemoteAddr)

	go wsConn.forwardEvents()
	go wsConn.writePump()
	go wsConn.readPump()
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// forwardEvents subscribes to every topic and marshals events into the
// send channel until the connection closes.
func (c *wsConnection) forwardEvents() {
	bus := c.server.bus

	started, cancelStarted := bus.RecordingStarted.Subscribe()
	defer cancelStarted()
	paused, cancelPaused := bus.RecordingPaused.Subscribe()
	defer cancelPaused()
	resumed, cancelResumed := bus.RecordingResumed.Subscribe()
	defer cancelResumed()
	stopped, cancelStopped := bus.RecordingStopped.Subscribe()
	defer cancelStopped()
	level, cancelLevel := bus.Level.Subscribe()
	defer cancelLevel()
	progress, cancelProgress := bus.TranscriptionProgress.Subscribe()
	defer cancelProgress()
	completed, cancelCompleted := bus.TranscriptionCompleted.Subscribe()
	defer cancelCompleted()
	failed, cancelFailed := bus.TranscriptionFailed.Subscribe()
	defer cancelFailed()
	download, cancelDownload := bus.DownloadProgress.Subscribe()
	defer cancelDownload()
	downloaded, cancelDownloaded := bus.ModelDownloaded.Subscribe()
	defer cancelDownloaded()

	for {
		select {
		case <-c.done:
			return
		case e := <-started:
			c.push("recording-started", e)
		case e := <-paused:
			c.push("recording-paused", e)
		case e := <-resumed:
			c.push("recording-resumed", e)
		case e := <-stopped:
			c.push("recording-stopped", e)
		case e := <-level:
			c.push("audio-level", e)
		case e := <-progress:
			c.push("transcription-progress", e)
		case e := <-completed:
			c.push("transcription-completed", e)
		case e := <-failed:
			c.push("transcription-failed", e)
		case e := <-download:
			c.push("download-progress", e)
		case e := <-downloaded:
			c.push("model-downloaded", e)
		}
	}
}

func (c *wsConnection) push(eventType string, payload interface{}) {
	data, err := json.Marshal(envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		c.server.logger.Error("Failed to marshal event", "type", eventType, "error", err)
		return
	}

	select {
	case c.send <- data:
	default:
		// Slow client, drop the event rather than stall the stream.
	}
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
