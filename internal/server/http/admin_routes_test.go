package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

func TestAdminRoutesRequireSuperAdmin(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	if w := e.do(t, http.MethodGet, "/api/admin/users", "owner", nil); w.Code != http.StatusForbidden {
		t.Fatalf("owner on admin route = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/admin/users", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous on admin route = %d", w.Code)
	}
}

func TestAdminUserLifecycle(t *testing.T) {
	e := setupServer(t)
	e.add(t, "root", domain.RoleSuperAdmin)
	ctx := context.Background()

	w := e.do(t, http.MethodPost, "/api/admin/users", "root", map[string]string{"email": "new@example.com", "password": "secret1", "role": "user", "full_name": "New"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)
	if w := e.do(t, http.MethodPost, "/api/admin/users", "root", map[string]string{"email": "new@example.com", "password": "secret1", "role": "user"}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d", w.Code)
	}

	if w := e.do(t, http.MethodPut, "/api/admin/users/"+created.ID+"/onboarding", "root", map[string]bool{"completed": true}); w.Code != http.StatusOK {
		t.Fatalf("onboarding flag = %d %s", w.Code, w.Body.String())
	}
	if done, _ := e.users.OnboardingCompleted(ctx, created.ID); !done {
		t.Fatalf("onboarding flag not stored")
	}
	if w := e.do(t, http.MethodPut, "/api/admin/users/nobody/onboarding", "root", map[string]bool{"completed": true}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", w.Code)
	}

	if w := e.do(t, http.MethodPut, "/api/admin/users/"+created.ID+"/active", "root", map[string]bool{"active": false}); w.Code != http.StatusOK {
		t.Fatalf("disable = %d", w.Code)
	}
	if _, err := e.svc.SignIn(ctx, "new@example.com", "secret1"); err == nil {
		t.Fatalf("disabled user signed in")
	}
	if w := e.do(t, http.MethodPut, "/api/admin/users/"+e.ids["root"]+"/active", "root", map[string]bool{"active": false}); w.Code != http.StatusBadRequest {
		t.Fatalf("self-disable = %d", w.Code)
	}

	var list struct {
		Total int `json:"total"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/admin/users?role=user", "root", nil), &list)
	if list.Total != 1 {
		t.Fatalf("expected 1 user, got %d", list.Total)
	}
}

func TestAdminBroadcast(t *testing.T) {
	e := setupServer(t)
	e.add(t, "root", domain.RoleSuperAdmin)
	e.add(t, "a", domain.RoleUser)
	e.add(t, "b", domain.RoleUser)
	e.add(t, "h", domain.RoleAssist)
	w := e.do(t, http.MethodPost, "/api/admin/broadcast", "root", map[string]string{"role": "user", "content": "maintenance at 22:00"})
	var out struct {
		Sent int `json:"sent"`
	}
	decode(t, w, &out)
	if out.Sent != 2 {
		t.Fatalf("expected 2 sent, got %d (%s)", out.Sent, w.Body.String())
	}
	if n, _ := e.msgs.UnreadCount(context.Background(), e.ids["h"]); n != 0 {
		t.Fatalf("assistant should not receive user broadcast")
	}
}

func TestAdminBroadcastRejectsUnknownRole(t *testing.T) {
	e := setupServer(t)
	e.add(t, "root", domain.RoleSuperAdmin)
	e.add(t, "a", domain.RoleUser)
	w := e.do(t, http.MethodPost, "/api/admin/broadcast", "root", map[string]string{"role": "usr", "content": "hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d (%s)", w.Code, w.Body.String())
	}
	if n, _ := e.msgs.UnreadCount(context.Background(), e.ids["a"]); n != 0 {
		t.Fatalf("nothing should be sent on a rejected broadcast")
	}
}
