package httpserver

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

func TestMessagesFlow(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)

	if w := e.do(t, http.MethodGet, "/api/messages/unread_count", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous unread_count = %d", w.Code)
	}
	w := e.do(t, http.MethodPost, "/api/messages", "helper", map[string]string{"receiver_id": e.ids["owner"], "content": "welcome aboard"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/api/messages", "helper", map[string]string{"receiver_id": e.ids["owner"]}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty message = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/messages", "helper", map[string]string{"receiver_id": "ghost", "content": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown receiver = %d", w.Code)
	}

	var cnt struct {
		Count int64 `json:"count"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/messages/unread_count", "owner", nil), &cnt)
	if cnt.Count != 1 {
		t.Fatalf("expected 1 unread, got %d", cnt.Count)
	}

	var list struct {
		Messages []domain.Message `json:"messages"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/messages?peer="+e.ids["helper"], "owner", nil), &list)
	if len(list.Messages) != 1 || list.Messages[0].Content != "welcome aboard" {
		t.Fatalf("unexpected conversation: %+v", list.Messages)
	}

	// the sender cannot mark the receiver's message read
	var upd struct {
		Updated int64 `json:"updated"`
	}
	decode(t, e.do(t, http.MethodPost, "/api/messages/read", "helper", map[string]any{"ids": []string{list.Messages[0].ID}}), &upd)
	if upd.Updated != 0 {
		t.Fatalf("sender marked message read")
	}
	decode(t, e.do(t, http.MethodPost, "/api/messages/read", "owner", map[string]any{"peer": e.ids["helper"]}), &upd)
	if upd.Updated != 1 {
		t.Fatalf("expected 1 updated, got %d", upd.Updated)
	}
	decode(t, e.do(t, http.MethodGet, "/api/messages/unread_count", "owner", nil), &cnt)
	if cnt.Count != 0 {
		t.Fatalf("expected 0 unread, got %d", cnt.Count)
	}

	var act struct {
		Last map[string]time.Time `json:"last"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/messages/activity?peer="+e.ids["helper"]+"&peer=stranger", "owner", nil), &act)
	if _, ok := act.Last[e.ids["helper"]]; !ok || len(act.Last) != 1 {
		t.Fatalf("unexpected activity map: %v", act.Last)
	}
}

func TestStreamPushesUnreadCount(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/messages/stream?token="+e.tokens["owner"], nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	waitLine := func(want string) {
		t.Helper()
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", want)
				}
				if strings.Contains(l, want) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}
	waitLine(`"count":0`)
	if w := e.do(t, http.MethodPost, "/api/messages", "helper", map[string]string{"receiver_id": e.ids["owner"], "content": "ping"}); w.Code != http.StatusCreated {
		t.Fatalf("send = %d", w.Code)
	}
	waitLine(`"count":1`)
}

func TestWebsocketPeersAndActivity(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/messages/ws?token=" + e.tokens["owner"]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{"type": "peers", "peers": []string{e.ids["helper"]}}); err != nil {
		t.Fatalf("write peers: %v", err)
	}
	// give the read pump a moment to apply the peer set
	time.Sleep(50 * time.Millisecond)
	if w := e.do(t, http.MethodPost, "/api/messages", "helper", map[string]string{"receiver_id": e.ids["owner"], "content": "hi"}); w.Code != http.StatusCreated {
		t.Fatalf("send = %d", w.Code)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f struct {
			Type string               `json:"type"`
			Last map[string]time.Time `json:"last"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type == "activity" {
			if _, ok := f.Last[e.ids["helper"]]; ok {
				return
			}
		}
	}
}
