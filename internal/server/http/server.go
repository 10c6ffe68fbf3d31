package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gin "github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	auditchain "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/audit/chain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/identity"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/rbac"
	common "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/cli/common"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domains"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/idempotency"
	msgsgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/messages"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
	obj "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/objstore"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/session"
)

// Config is the http: section of the server config.
type Config struct {
	RoleTimeout      time.Duration `mapstructure:"role_timeout"`
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	SignedURLTTL     time.Duration `mapstructure:"signed_url_ttl"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
}

// Deps are the collaborators the HTTP surface drives. Audit, Store,
// Domains and Idempotency are optional.
type Deps struct {
	Auth     *identity.Service
	Users    *usersgorm.Repo
	Messages *msgsgorm.Repo
	Bus      feed.Bus
	Policy   *rbac.CasbinPolicy
	Audit    *auditchain.Writer
	Store    obj.Store
	Domains  *domains.Checker

	Idempotency *idempotency.Manager
}

type Server struct {
	cfg       Config
	auth      *identity.Service
	userRepo  *usersgorm.Repo
	msgRepo   *msgsgorm.Repo
	bus       feed.Bus
	streams   atomic.Int64
	rbac      *rbac.CasbinPolicy
	audit     *auditchain.Writer
	obj       obj.Store
	domains   *domains.Checker
	idem      *idempotency.Manager
	startedAt time.Time

	mu      sync.Mutex
	httpSrv *http.Server
}

func NewServer(cfg Config, d Deps) (*Server, error) {
	if d.Auth == nil || d.Users == nil || d.Messages == nil || d.Bus == nil {
		return nil, errors.New("httpserver: auth, users, messages and bus are required")
	}
	if d.Policy == nil {
		p, err := rbac.NewCasbinPolicy("", "")
		if err != nil {
			return nil, err
		}
		d.Policy = p
	}
	if cfg.RoleTimeout <= 0 {
		cfg.RoleTimeout = session.DefaultRoleTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &Server{
		cfg:       cfg,
		auth:      d.Auth,
		userRepo:  d.Users,
		msgRepo:   d.Messages,
		bus:       d.Bus,
		rbac:      d.Policy,
		audit:     d.Audit,
		obj:       d.Store,
		domains:   d.Domains,
		idem:      d.Idempotency,
		startedAt: time.Now(),
	}, nil
}

// Handler is the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.ginEngine(), "http.server")
}

// ListenAndServe serves until Shutdown. A non-nil tc serves HTTPS.
func (s *Server) ListenAndServe(addr string, tc *tls.Config) error {
	hs := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second, TLSConfig: tc}
	s.mu.Lock()
	s.httpSrv = hs
	s.mu.Unlock()
	var err error
	if tc != nil {
		slog.Info("http api listening", "addr", addr, "tls", true)
		err = hs.ListenAndServeTLS("", "")
	} else {
		slog.Info("http api listening", "addr", addr)
		err = hs.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpSrv
	s.mu.Unlock()
	if hs != nil {
		return hs.Shutdown(ctx)
	}
	return nil
}

func (s *Server) ginEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(s.recovered), s.ginReqID(), s.ginCORS(), s.ginLogger(), s.ginAuthZ())

	r.GET("/healthz", s.handleHealth)
	s.authRoutes(r)
	s.gateRoutes(r)
	s.messageRoutes(r)
	s.uploadRoutes(r)
	s.adminRoutes(r)
	r.GET("/api/domains/check", s.handleDomainCheck)

	r.NoRoute(s.notFound)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	s.JSON(c, http.StatusOK, gin.H{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
		"logs":       common.GetLogCounters(),
		"streams":    s.streams.Load(),
	})
}

func (s *Server) handleDomainCheck(c *gin.Context) {
	if s.domains == nil {
		s.respondError(c, http.StatusServiceUnavailable, "unavailable", "domain lookup disabled")
		return
	}
	res, err := s.domains.Check(c.Request.Context(), c.Query("name"))
	switch {
	case errors.Is(err, domains.ErrInvalidName):
		s.respondError(c, http.StatusBadRequest, "bad_request", "invalid domain name")
	case err != nil:
		slog.Warn("domain check", "name", c.Query("name"), "error", err)
		s.respondError(c, http.StatusBadGateway, "bad_gateway", "domain lookup failed")
	default:
		s.JSON(c, http.StatusOK, res)
	}
}

// gin middlewares

func (s *Server) ginCORS() gin.HandlerFunc {
	allowed := map[string]struct{}{}
	wildcard := len(s.cfg.AllowOrigins) == 0
	for _, o := range s.cfg.AllowOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		} else if o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.Request.Header.Get("Origin")
		switch {
		case wildcard && s.cfg.AllowCredentials && origin != "":
			// credentials forbid "*", echo the concrete origin
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		case wildcard:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if s.cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ginReqID injects/propagates an X-Request-ID for traceability.
func (s *Server) ginReqID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Request.Header.Get("X-Request-ID")
		if strings.TrimSpace(rid) == "" {
			b := make([]byte, 16)
			if _, err := rand.Read(b); err == nil {
				rid = hex.EncodeToString(b)
			} else {
				rid = fmt.Sprintf("%d", time.Now().UnixNano())
			}
		}
		c.Set("reqid", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

func (s *Server) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		st := c.Writer.Status()
		lvl := slog.LevelInfo
		if st >= 500 {
			lvl = slog.LevelError
		} else if st >= 400 {
			lvl = slog.LevelWarn
		}
		user := ""
		if v, ok := c.Get(stateKey); ok {
			if ss, ok := v.(session.State); ok && ss.User != nil {
				user = ss.User.ID
			}
		}
		rid, _ := c.Get("reqid")
		slog.Log(c.Request.Context(), lvl, "http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", st,
			"bytes", c.Writer.Size(),
			"remote", c.ClientIP(),
			"user", user,
			"reqid", rid,
			"dur_ms", time.Since(start).Milliseconds(),
		)
	}
}

// publicPaths handle their own authentication. Gated flows must answer every
// denial with the not-found body, so the policy never sees them.
var publicPrefixes = []string{
	"/api/auth/",
	"/api/onboarding",
	"/api/orientation",
}

// ginAuthZ resolves the caller and enforces the casbin route policy on /api.
func (s *Server) ginAuthZ() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if !strings.HasPrefix(p, "/api/") {
			c.Next()
			return
		}
		for _, pre := range publicPrefixes {
			if strings.HasPrefix(p, pre) {
				c.Next()
				return
			}
		}
		st := s.resolve(c)
		if !st.SignedIn() {
			s.respondError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			c.Abort()
			return
		}
		if st.Role == "" || !s.rbac.CanHTTP(st.Role, c.Request.Method, p) {
			s.respondError(c, http.StatusForbidden, "forbidden", "forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}

// respondError sends a unified JSON error body.
func (s *Server) respondError(c *gin.Context, status int, code, message string) {
	type errBody struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	}
	rid, _ := c.Get("reqid")
	s.JSON(c, status, errBody{Code: code, Message: message, RequestID: fmt.Sprint(rid)})
}

// recovered answers a panic anywhere in the chain with the unified 500 body.
func (s *Server) recovered(c *gin.Context, err any) {
	slog.Error("panic recovered", "path", c.Request.URL.Path, "error", err)
	s.respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
	c.Abort()
}

// notFound is the NoRoute answer, reused verbatim by gate rejections.
func (s *Server) notFound(c *gin.Context) {
	s.respondError(c, http.StatusNotFound, "not_found", "not found")
	c.Abort()
}
