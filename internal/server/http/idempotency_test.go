package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/idempotency"
)

func (e *testEnv) doKeyed(t *testing.T, path, who, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.tokens[who])
	req.Header.Set(headerIdempotencyKey, key)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func TestSendMessageIdempotent(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)
	body := `{"receiver_id":"` + e.ids["owner"] + `","content":"hello once"}`

	first := e.doKeyed(t, "/api/messages", "helper", "send-1", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", first.Code, first.Body.String())
	}
	again := e.doKeyed(t, "/api/messages", "helper", "send-1", body)
	if again.Code != http.StatusCreated || again.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("retry = %d replayed=%q", again.Code, again.Header().Get("Idempotent-Replayed"))
	}
	if again.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), again.Body.String())
	}
	var cnt struct {
		Count int64 `json:"count"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/messages/unread_count", "owner", nil), &cnt)
	if cnt.Count != 1 {
		t.Fatalf("retry created a second message: %d unread", cnt.Count)
	}

	other := `{"receiver_id":"` + e.ids["owner"] + `","content":"something else"}`
	if w := e.doKeyed(t, "/api/messages", "helper", "send-1", other); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reused key = %d", w.Code)
	}
	// keys are scoped per caller
	if w := e.doKeyed(t, "/api/messages", "owner", "send-1", `{"receiver_id":"`+e.ids["helper"]+`","content":"hi back"}`); w.Code != http.StatusCreated {
		t.Fatalf("other caller same key = %d", w.Code)
	}
}

func TestFailedSendIsNotRemembered(t *testing.T) {
	e := setupServer(t)
	e.add(t, "helper", domain.RoleAssist)
	body := `{"receiver_id":"ghost","content":"x"}`
	if w := e.doKeyed(t, "/api/messages", "helper", "k", body); w.Code != http.StatusNotFound {
		t.Fatalf("first = %d", w.Code)
	}
	if w := e.doKeyed(t, "/api/messages", "helper", "k", body); w.Header().Get("Idempotent-Replayed") != "" {
		t.Fatalf("error response was replayed")
	}
}

func TestDuplicateWhileInFlightIsRejected(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)
	body := `{"receiver_id":"` + e.ids["owner"] + `","content":"hello once"}`

	// the first request holds the key but has not finished yet
	if _, err := e.s.idem.Reserve(context.Background(), "send-1", e.ids["helper"], "messages.send", idempotency.Hash([]byte(body))); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	w := e.doKeyed(t, "/api/messages", "helper", "send-1", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate in flight = %d %s", w.Code, w.Body.String())
	}
	if n, _ := e.msgs.UnreadCount(context.Background(), e.ids["owner"]); n != 0 {
		t.Fatalf("duplicate wrote a message: %d unread", n)
	}
}
