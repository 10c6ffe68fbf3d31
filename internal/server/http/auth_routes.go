package httpserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/identity"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/session"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/validation"
)

// bindForm validates the raw body against the named schema, then decodes it.
func (s *Server) bindForm(c *gin.Context, form string, out any) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	if sch, ok := validation.Lookup(form); ok {
		if err := sch.ValidateJSON(body); err != nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
			return false
		}
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := jsonAPI.Unmarshal(body, out); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

func (s *Server) respondAuthError(c *gin.Context, err error) {
	var ae *session.AuthError
	if !errors.As(err, &ae) {
		slog.Error("auth", "error", err)
		s.respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	status := http.StatusBadRequest
	switch ae.Code {
	case session.CodeInvalidCredentials, session.CodeRoleMismatch:
		status = http.StatusUnauthorized
	case session.CodeUserDisabled:
		status = http.StatusForbidden
	case session.CodeEmailTaken:
		status = http.StatusConflict
	case session.CodeUnknown:
		slog.Error("auth", "error", ae.Err)
		status = http.StatusInternalServerError
	}
	rid, _ := c.Get("reqid")
	body := gin.H{"code": ae.Code, "message": ae.Message, "request_id": rid}
	if ae.ExpectedRole != "" {
		body["expected_role"] = ae.ExpectedRole
	}
	s.JSON(c, status, body)
}

type sessionBody struct {
	User         domain.Identity `json:"user"`
	Role         domain.Role     `json:"role"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

func newSessionBody(sess *domain.Session, role domain.Role) sessionBody {
	return sessionBody{User: sess.User, Role: role, AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken, ExpiresAt: sess.ExpiresAt}
}

func (s *Server) authRoutes(r *gin.Engine) {
	g := r.Group("/api/auth")

	g.POST("/signup", func(c *gin.Context) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"full_name"`
			Role     string `json:"role"`
		}
		if !s.bindForm(c, validation.FormSignUp, &in) {
			return
		}
		role := domain.RoleUser
		if in.Role != "" {
			role = domain.Role(in.Role)
		}
		cli := s.auth.Client("")
		defer cli.Close()
		res := session.NewResolver(cli, s.userRepo, session.Options{RoleTimeout: s.cfg.RoleTimeout})
		defer res.Close()
		sess, err := res.SignUp(c.Request.Context(), identity.SignUpInput{Email: in.Email, Password: in.Password, FullName: in.FullName, Role: role})
		if err != nil {
			s.respondAuthError(c, err)
			return
		}
		s.auditLog("auth.signup", sess.User.ID, sess.User.ID, map[string]string{"role": string(role)})
		s.JSON(c, http.StatusCreated, newSessionBody(sess, role))
	})

	g.POST("/signin", func(c *gin.Context) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if !s.bindForm(c, validation.FormSignIn, &in) {
			return
		}
		role, err := domain.ParseRole(in.Role)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "invalid role")
			return
		}
		cli := s.auth.Client("")
		defer cli.Close()
		res := session.NewResolver(cli, s.userRepo, session.Options{RoleTimeout: s.cfg.RoleTimeout})
		defer res.Close()
		sess, err := res.SignIn(c.Request.Context(), in.Email, in.Password, role)
		if err != nil {
			s.respondAuthError(c, err)
			return
		}
		s.JSON(c, http.StatusOK, newSessionBody(sess, role))
	})

	g.POST("/signout", func(c *gin.Context) {
		tok := bearer(c)
		if tok == "" {
			s.respondError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		if err := s.auth.SignOut(c.Request.Context(), tok); err != nil {
			slog.Warn("sign out", "error", err)
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/refresh", func(c *gin.Context) {
		var in struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.RefreshToken == "" {
			s.respondError(c, http.StatusBadRequest, "bad_request", "refresh_token required")
			return
		}
		sess, err := s.auth.Refresh(c.Request.Context(), in.RefreshToken)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidRefresh) {
				s.respondError(c, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
				return
			}
			slog.Error("refresh", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}
		c.Request.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		st := s.resolve(c)
		s.JSON(c, http.StatusOK, newSessionBody(sess, st.Role))
	})

	// session answers with the resolver state; a missing or stale token is
	// simply signed out, never an error.
	g.GET("/session", func(c *gin.Context) {
		s.JSON(c, http.StatusOK, s.resolve(c))
	})
}
