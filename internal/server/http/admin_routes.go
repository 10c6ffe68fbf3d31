package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/validation"
)

// adminRoutes are reachable by super_admin only; ginAuthZ enforces it via
// the casbin policy.
func (s *Server) adminRoutes(r *gin.Engine) {
	g := r.Group("/api/admin")

	g.GET("/users", func(c *gin.Context) {
		role := c.Query("role")
		if role != "" {
			if _, err := domain.ParseRole(role); err != nil {
				s.respondError(c, http.StatusBadRequest, "bad_request", "invalid role")
				return
			}
		}
		items, err := s.userRepo.ListUsers(c.Request.Context(), role)
		if err != nil {
			slog.Error("list users", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
			return
		}
		s.JSON(c, http.StatusOK, gin.H{"users": items, "total": len(items)})
	})

	g.POST("/users", func(c *gin.Context) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"full_name"`
			Role     string `json:"role"`
		}
		if !s.bindForm(c, validation.FormAdminCreate, &in) {
			return
		}
		role, err := domain.ParseRole(in.Role)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "invalid role")
			return
		}
		u := &usersgorm.UserRecord{Email: in.Email}
		if err := s.userRepo.Provision(c.Request.Context(), u, in.Password, role, in.FullName); err != nil {
			if errors.Is(err, usersgorm.ErrEmailTaken) {
				s.respondError(c, http.StatusConflict, "conflict", "email already registered")
				return
			}
			slog.Error("admin create user", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "create failed")
			return
		}
		s.auditLog("admin.user.create", s.me(c), u.ID, map[string]string{"role": string(role), "email": u.Email})
		s.JSON(c, http.StatusCreated, gin.H{"id": u.ID, "email": u.Email, "role": role})
	})

	// onboarding sets the completion flag matching the user's role:
	// businesses for user, profiles for assist.
	g.PUT("/users/:id/onboarding", func(c *gin.Context) {
		var in struct {
			Completed *bool `json:"completed"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Completed == nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "completed required")
			return
		}
		id, ctx := c.Param("id"), c.Request.Context()
		role, err := s.userRepo.Role(ctx, id)
		if errors.Is(err, usersgorm.ErrNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			s.respondError(c, http.StatusInternalServerError, "internal_error", "lookup failed")
			return
		}
		switch role {
		case domain.RoleUser:
			err = s.userRepo.SetOnboardingCompleted(ctx, id, *in.Completed)
		case domain.RoleAssist:
			err = s.userRepo.SetOrientationCompleted(ctx, id, *in.Completed)
		default:
			s.respondError(c, http.StatusBadRequest, "bad_request", "role has no onboarding flow")
			return
		}
		if err != nil {
			slog.Error("set onboarding flag", "user", id, "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "update failed")
			return
		}
		s.auditLog("admin.user.onboarding", s.me(c), id, map[string]string{"completed": strconv.FormatBool(*in.Completed)})
		s.JSON(c, http.StatusOK, gin.H{"id": id, "completed": *in.Completed})
	})

	g.PUT("/users/:id/active", func(c *gin.Context) {
		var in struct {
			Active *bool `json:"active"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Active == nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "active required")
			return
		}
		id := c.Param("id")
		if id == s.me(c) && !*in.Active {
			s.respondError(c, http.StatusBadRequest, "bad_request", "cannot disable yourself")
			return
		}
		if err := s.userRepo.SetActive(c.Request.Context(), id, *in.Active); err != nil {
			if errors.Is(err, usersgorm.ErrNotFound) {
				s.respondError(c, http.StatusNotFound, "not_found", "user not found")
				return
			}
			s.respondError(c, http.StatusInternalServerError, "internal_error", "update failed")
			return
		}
		s.auditLog("admin.user.active", s.me(c), id, map[string]string{"active": strconv.FormatBool(*in.Active)})
		s.JSON(c, http.StatusOK, gin.H{"id": id, "active": *in.Active})
	})

	// broadcast sends one announcement to every user holding role, or to
	// everyone but the sender when role is empty.
	g.POST("/broadcast", s.idempotent("admin.broadcast"), func(c *gin.Context) {
		var in struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Content == "" {
			s.respondError(c, http.StatusBadRequest, "bad_request", "content required")
			return
		}
		if in.Role != "" {
			if _, err := domain.ParseRole(in.Role); err != nil {
				s.respondError(c, http.StatusBadRequest, "bad_request", "invalid role")
				return
			}
		}
		ctx, me := c.Request.Context(), s.me(c)
		users, err := s.userRepo.ListUsers(ctx, in.Role)
		if err != nil {
			s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
			return
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			if u.Active {
				ids = append(ids, u.ID)
			}
		}
		n, err := s.msgRepo.Broadcast(ctx, me, ids, in.Content)
		if err != nil {
			slog.Error("broadcast", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "broadcast failed")
			return
		}
		s.auditLog("admin.broadcast", me, in.Role, map[string]string{"sent": strconv.Itoa(n)})
		s.JSON(c, http.StatusOK, gin.H{"sent": n})
	})
}
