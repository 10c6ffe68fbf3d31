package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/hotreload"
)

func TestDefaultPolicy(t *testing.T) {
	p, err := NewCasbinPolicy("", "")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	cases := []struct {
		role   domain.Role
		method string
		path   string
		want   bool
	}{
		{domain.RoleSuperAdmin, "GET", "/api/admin/users", true},
		{domain.RoleSuperAdmin, "PUT", "/api/admin/users/42/active", true},
		{domain.RoleUser, "GET", "/api/admin/users", false},
		{domain.RoleAssist, "POST", "/api/admin/users", false},
		{domain.RoleUser, "GET", "/api/messages", true},
		{domain.RoleAssist, "POST", "/api/messages/read", true},
		{domain.RoleUser, "GET", "/api/domains/check", true},
		{domain.RoleUser, "POST", "/api/domains/check", false},
		{domain.RoleAssist, "GET", "/api/domains/check", false},
		{"", "GET", "/api/messages", false},
	}
	for _, tc := range cases {
		if got := p.CanHTTP(tc.role, tc.method, tc.path); got != tc.want {
			t.Fatalf("%s %s %s = %v, want %v", tc.role, tc.method, tc.path, got, tc.want)
		}
	}
}

func TestPolicyFileReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(path, []byte("p, role:user, /api/messages*, GET\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := NewCasbinPolicy("", path)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.CanHTTP(domain.RoleAssist, "GET", "/api/messages") {
		t.Fatalf("assist allowed before grant")
	}
	w, err := hotreload.New(20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	if err := p.Watch(w); err != nil {
		t.Fatalf("watch: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	rules := "p, role:user, /api/messages*, GET\np, role:assist, /api/messages*, GET\n"
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !p.CanHTTP(domain.RoleAssist, "GET", "/api/messages") {
		if time.Now().After(deadline) {
			t.Fatalf("policy change not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
