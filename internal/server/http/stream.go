package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/tracker"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
)

// liveView is one connection's trackers. Both report through a coalescing
// notify channel; the writer always sends the latest values.
type liveView struct {
	unread   *tracker.UnreadCounter
	activity *tracker.ActivityTracker
	notify   chan struct{}
}

func (s *Server) startLive(ctx context.Context, me string, peers []string) (*liveView, error) {
	v := &liveView{
		unread:   tracker.NewUnreadCounter(me, s.msgRepo, s.bus, nil),
		activity: tracker.NewActivityTracker(me, s.msgRepo, s.bus, nil),
		notify:   make(chan struct{}, 1),
	}
	poke := func() {
		select {
		case v.notify <- struct{}{}:
		default:
		}
	}
	v.unread.OnChange(func(int64) { poke() })
	v.activity.OnChange(func(map[string]time.Time) { poke() })
	if err := v.activity.Start(ctx); err != nil {
		return nil, err
	}
	v.activity.SetPeers(ctx, peers)
	if err := v.unread.Start(ctx); err != nil {
		v.activity.Stop()
		return nil, err
	}
	poke()
	return v, nil
}

func (v *liveView) stop() {
	v.unread.Stop()
	v.activity.Stop()
}

type unreadFrame struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type activityFrame struct {
	Type string               `json:"type"`
	Last map[string]time.Time `json:"last"`
}

func (v *liveView) frames() []any {
	out := make([]any, 0, 2)
	if n, ok := v.unread.Count(); ok {
		out = append(out, unreadFrame{Type: "unread", Count: n})
	}
	out = append(out, activityFrame{Type: "activity", Last: v.activity.Snapshot()})
	return out
}

// handleStream pushes unread and activity updates as server-sent events.
func (s *Server) handleStream(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "stream unsupported")
		return
	}
	ctx := c.Request.Context()
	me := s.me(c)
	live, err := s.startLive(ctx, me, peersParam(c))
	if err != nil {
		slog.Error("stream subscribe", "user", me, "error", err)
		s.respondError(c, http.StatusServiceUnavailable, "unavailable", "live updates unavailable")
		return
	}
	defer live.stop()
	s.streams.Add(1)
	defer s.streams.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(pingInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-live.notify:
			for _, f := range live.frames() {
				b, err := marshal(f)
				if err != nil {
					continue
				}
				var event string
				switch f.(type) {
				case unreadFrame:
					event = "unread"
				default:
					event = "activity"
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are enforced by the CORS allowlist and the bearer token
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS is the websocket flavour of the stream. Clients may send
// {"type":"peers","peers":[...]} to change the tracked peer set.
func (s *Server) handleWS(c *gin.Context) {
	me := s.me(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws upgrade", "user", me, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live, err := s.startLive(ctx, me, peersParam(c))
	if err != nil {
		slog.Error("ws subscribe", "user", me, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "unavailable"), time.Now().Add(writeWait))
		return
	}
	defer live.stop()
	s.streams.Add(1)
	defer s.streams.Add(-1)

	go s.wsReadPump(ctx, cancel, conn, live)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-live.notify:
			for _, f := range live.frames() {
				b, err := marshal(f)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) wsReadPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, live *liveView) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		var env struct {
			Type  string   `json:"type"`
			Peers []string `json:"peers"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read", "error", err)
			}
			return
		}
		if env.Type == "peers" {
			live.activity.SetPeers(ctx, env.Peers)
			select {
			case live.notify <- struct{}{}:
			default:
			}
		}
	}
}
