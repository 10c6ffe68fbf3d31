package httpserver

import (
	"context"
	"strings"

	gin "github.com/gin-gonic/gin"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/session"
)

const stateKey = "session_state"

// bearer returns the access token from Authorization or, for stream
// endpoints that cannot set headers, the token query parameter.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// resolve returns the caller's session state, computing it once per request.
func (s *Server) resolve(c *gin.Context) session.State {
	if v, ok := c.Get(stateKey); ok {
		return v.(session.State)
	}
	st := session.Resolve(c.Request.Context(), s.auth.Client(bearer(c)), s.userRepo, s.cfg.RoleTimeout)
	c.Set(stateKey, st)
	return st
}

// requestWaiter adapts the per-request resolution to gate.StateWaiter.
type requestWaiter struct {
	s *Server
	c *gin.Context
}

func (w requestWaiter) Wait(ctx context.Context) (session.State, error) {
	if err := ctx.Err(); err != nil {
		return session.State{}, err
	}
	return w.s.resolve(w.c), nil
}

// me is the signed-in caller's id; ginAuthZ has already rejected anonymous
// requests on protected routes.
func (s *Server) me(c *gin.Context) string {
	if st := s.resolve(c); st.User != nil {
		return st.User.ID
	}
	return ""
}
