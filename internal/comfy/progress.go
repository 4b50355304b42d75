package comfy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// ProgressListener follows ComfyUI's WebSocket feed and logs node-level
// progress for a running job. Purely advisory: the polling loop alone
// drives job state, so a dropped socket never affects the pipeline.
type ProgressListener struct {
	wsURL  string
	logger *slog.Logger
}

// NewProgressListener builds a listener for the instance at baseURL,
// identified by the same clientID the render client submits with.
func NewProgressListener(baseURL, clientID string, logger *slog.Logger) *ProgressListener {
	ws := strings.Replace(baseURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return &ProgressListener{
		wsURL:  ws + "/ws?clientId=" + url.QueryEscape(clientID),
		logger: logger.With("component", "comfy-progress"),
	}
}

// progressEvent is the subset of ComfyUI's WebSocket messages we log.
type progressEvent struct {
	Type string `json:"type"`
	Data struct {
		Value    int    `json:"value"`
		Max      int    `json:"max"`
		Node     string `json:"node"`
		PromptID string `json:"prompt_id"`
	} `json:"data"`
}

// Watch streams progress events for jobID until the returned stop
// function is called or ctx ends. Connection failures are logged at
// debug level and abandoned.
func (l *ProgressListener) Watch(ctx context.Context, jobID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		l.logger.Debug("progress socket unavailable", "error", err)
		return cancel
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return // socket closed by stop() or by the backend
			}
			var ev progressEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Type == "progress" && (ev.Data.PromptID == "" || ev.Data.PromptID == jobID) {
				l.logger.Debug("render progress",
					"job", jobID, "node", ev.Data.Node,
					"step", ev.Data.Value, "of", ev.Data.Max)
			}
		}
	}()

	return cancel
}
