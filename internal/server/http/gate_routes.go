package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/gate"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/validation"
)

func (s *Server) onboardingGate() gate.Gate {
	g := gate.Onboarding(gate.FlagFunc(s.userRepo.OnboardingCompleted))
	g.Observe = s.observeGate
	return g
}

func (s *Server) orientationGate() gate.Gate {
	g := gate.Orientation(gate.FlagFunc(s.userRepo.OrientationCompleted))
	g.Observe = s.observeGate
	return g
}

// observeGate records rejections in the audit chain. The caller only ever
// sees the not-found body.
func (s *Server) observeGate(_ context.Context, d gate.Decision) {
	if d.Outcome.Status != gate.Rejected {
		return
	}
	meta := map[string]string{"gate": d.Gate, "reason": string(d.Outcome.Reason), "role": string(d.Role)}
	if d.Outcome.Err != nil {
		meta["error"] = d.Outcome.Err.Error()
	}
	s.auditLog("gate.reject", d.UserID, d.Gate, meta)
}

// guard runs g for the request and answers rejections exactly like NoRoute.
func (s *Server) guard(c *gin.Context, g gate.Gate) bool {
	out := gate.Run(c.Request.Context(), requestWaiter{s: s, c: c}, g)
	if out.Status != gate.Accepted {
		s.notFound(c)
		return false
	}
	return true
}

func (s *Server) gateRoutes(r *gin.Engine) {
	r.GET("/api/onboarding", func(c *gin.Context) {
		if !s.guard(c, s.onboardingGate()) {
			return
		}
		me := s.me(c)
		body := gin.H{"user_id": me, "business": nil}
		if b, err := s.userRepo.Business(c.Request.Context(), me); err == nil {
			body["business"] = gin.H{"business_name": b.BusinessName, "industry": b.Industry, "website": b.Website}
		}
		s.JSON(c, http.StatusOK, body)
	})

	r.POST("/api/onboarding", func(c *gin.Context) {
		if !s.guard(c, s.onboardingGate()) {
			return
		}
		var in struct {
			BusinessName string `json:"business_name"`
			Industry     string `json:"industry"`
			Website      string `json:"website"`
		}
		if !s.bindForm(c, validation.FormOnboarding, &in) {
			return
		}
		me := s.me(c)
		b := &usersgorm.BusinessRecord{
			UserID:              me,
			BusinessName:        strings.TrimSpace(in.BusinessName),
			Industry:            strings.TrimSpace(in.Industry),
			Website:             strings.TrimSpace(in.Website),
			OnboardingCompleted: true,
		}
		if err := s.userRepo.UpsertBusiness(c.Request.Context(), b); err != nil {
			slog.Error("onboarding save", "user", me, "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "save failed")
			return
		}
		s.auditLog("onboarding.complete", me, me, map[string]string{"business": b.BusinessName})
		s.JSON(c, http.StatusOK, gin.H{"completed": true})
	})

	r.GET("/api/orientation", func(c *gin.Context) {
		if !s.guard(c, s.orientationGate()) {
			return
		}
		me := s.me(c)
		body := gin.H{"user_id": me, "full_name": ""}
		if p, err := s.userRepo.Profile(c.Request.Context(), me); err == nil {
			body["full_name"] = p.FullName
		}
		s.JSON(c, http.StatusOK, body)
	})

	r.POST("/api/orientation/complete", func(c *gin.Context) {
		if !s.guard(c, s.orientationGate()) {
			return
		}
		me := s.me(c)
		if err := s.userRepo.SetOrientationCompleted(c.Request.Context(), me, true); err != nil {
			slog.Error("orientation save", "user", me, "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "save failed")
			return
		}
		s.auditLog("orientation.complete", me, me, nil)
		s.JSON(c, http.StatusOK, gin.H{"completed": true})
	})
}

func (s *Server) auditLog(kind, actor, target string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(kind, actor, target, meta); err != nil {
		slog.Warn("audit write", "kind", kind, "error", err)
	}
}
