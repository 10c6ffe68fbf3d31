// Package rbac authorizes API routes per role with a casbin model.
package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/hotreload"
)

// DefaultModel matches role subjects against path patterns (keyMatch) and
// methods, "*" meaning any method.
const DefaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// DefaultPolicy is used when no policy file is configured.
const DefaultPolicy = `
p, role:super_admin, /api/admin/*, *
p, role:super_admin, /api/messages*, *
p, role:super_admin, /api/uploads*, *
p, role:super_admin, /api/domains/*, GET
p, role:user, /api/messages*, *
p, role:user, /api/uploads*, *
p, role:user, /api/domains/*, GET
p, role:assist, /api/messages*, *
p, role:assist, /api/uploads*, *
`

// CasbinPolicy wraps a casbin enforcer. Reloads swap the policy under a lock.
type CasbinPolicy struct {
	mu         sync.RWMutex
	enforcer   *casbin.Enforcer
	policyPath string
}

// NewCasbinPolicy loads the model (DefaultModel when modelPath is empty) and
// the CSV policy at policyPath (DefaultPolicy when empty).
func NewCasbinPolicy(modelPath, policyPath string) (*CasbinPolicy, error) {
	var m model.Model
	var err error
	if modelPath == "" {
		m, err = model.NewModelFromString(DefaultModel)
	} else {
		m, err = model.NewModelFromFile(modelPath)
	}
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	var enforcer *casbin.Enforcer
	if policyPath == "" {
		enforcer, err = casbin.NewEnforcer(m)
		if err == nil {
			err = addRules(enforcer, DefaultPolicy)
		}
	} else {
		enforcer, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	}
	if err != nil {
		return nil, fmt.Errorf("rbac policy: %w", err)
	}
	slog.Info("rbac policy loaded", "model", modelPath, "policy", policyPath)
	return &CasbinPolicy{enforcer: enforcer, policyPath: policyPath}, nil
}

func addRules(e *casbin.Enforcer, csv string) error {
	for _, line := range strings.Split(csv, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) != 4 || parts[0] != "p" {
			return fmt.Errorf("bad policy line %q", line)
		}
		if _, err := e.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
			return err
		}
	}
	return nil
}

// CanHTTP reports whether role may call method on path.
func (p *CasbinPolicy) CanHTTP(role domain.Role, method, path string) bool {
	if !role.Valid() {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ok, err := p.enforcer.Enforce("role:"+string(role), path, method)
	if err != nil {
		slog.Warn("rbac enforce", "role", role, "path", path, "error", err)
		return false
	}
	if !ok {
		slog.Debug("rbac denied", "role", role, "method", method, "path", path)
	}
	return ok
}

// AddPolicy grants role method on the path pattern in memory.
func (p *CasbinPolicy) AddPolicy(role domain.Role, pattern, method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.enforcer.AddPolicy("role:"+string(role), pattern, method)
	return err
}

// LoadPolicy reloads the policy file. Without a file it is a no-op.
func (p *CasbinPolicy) LoadPolicy() error {
	if p.policyPath == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enforcer.LoadPolicy()
}

// Watch reloads the policy whenever its file changes.
func (p *CasbinPolicy) Watch(w *hotreload.Watcher) error {
	if p.policyPath == "" {
		return nil
	}
	return w.Add(p.policyPath, func(context.Context, string) error { return p.LoadPolicy() })
}
