package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	msgsgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/messages"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/tracker"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/validation"
)

// peersParam accepts ?peer=a&peer=b as well as ?peers=a,b.
func peersParam(c *gin.Context) []string {
	out := c.QueryArray("peer")
	if v := c.Query("peers"); v != "" {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

func (s *Server) messageRoutes(r *gin.Engine) {
	r.POST("/api/messages", s.idempotent("messages.send"), func(c *gin.Context) {
		var in struct {
			ReceiverID string `json:"receiver_id"`
			Content    string `json:"content"`
			FileURL    string `json:"file_url"`
		}
		if !s.bindForm(c, validation.FormMessage, &in) {
			return
		}
		ctx, me := c.Request.Context(), s.me(c)
		if in.FileURL != "" {
			ok, err := s.mayAttach(ctx, me, in.FileURL)
			if err != nil {
				s.respondError(c, http.StatusInternalServerError, "internal_error", "lookup failed")
				return
			}
			if !ok {
				s.respondError(c, http.StatusForbidden, "forbidden", "attachment not accessible")
				return
			}
		}
		if _, err := s.userRepo.GetUser(ctx, in.ReceiverID); err != nil {
			if errors.Is(err, usersgorm.ErrNotFound) {
				s.respondError(c, http.StatusNotFound, "not_found", "receiver not found")
				return
			}
			s.respondError(c, http.StatusInternalServerError, "internal_error", "lookup failed")
			return
		}
		m := &msgsgorm.MessageRecord{SenderID: me, ReceiverID: in.ReceiverID, Content: in.Content, FileURL: in.FileURL}
		if err := s.msgRepo.Create(ctx, m); err != nil {
			if errors.Is(err, msgsgorm.ErrEmptyMessage) || errors.Is(err, msgsgorm.ErrSelfMessage) {
				s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
				return
			}
			slog.Error("send message", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "send failed")
			return
		}
		s.JSON(c, http.StatusCreated, m.Domain())
	})

	r.GET("/api/messages", func(c *gin.Context) {
		peer := c.Query("peer")
		if peer == "" {
			s.respondError(c, http.StatusBadRequest, "bad_request", "peer required")
			return
		}
		var before time.Time
		if v := c.Query("before"); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				s.respondError(c, http.StatusBadRequest, "bad_request", "before must be RFC3339")
				return
			}
			before = t
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		msgs, err := s.msgRepo.Conversation(c.Request.Context(), s.me(c), peer, before, limit)
		if err != nil {
			slog.Error("list messages", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
			return
		}
		s.JSON(c, http.StatusOK, gin.H{"messages": msgs})
	})

	r.POST("/api/messages/read", func(c *gin.Context) {
		var in struct {
			IDs  []string `json:"ids"`
			Peer string   `json:"peer"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || (len(in.IDs) == 0 && in.Peer == "") {
			s.respondError(c, http.StatusBadRequest, "bad_request", "ids or peer required")
			return
		}
		ctx, me := c.Request.Context(), s.me(c)
		var n int64
		var err error
		if in.Peer != "" {
			n, err = s.msgRepo.MarkConversationRead(ctx, me, in.Peer)
		} else {
			n, err = s.msgRepo.MarkRead(ctx, me, in.IDs)
		}
		if err != nil {
			slog.Error("mark read", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "update failed")
			return
		}
		s.JSON(c, http.StatusOK, gin.H{"updated": n})
	})

	r.GET("/api/messages/unread_count", func(c *gin.Context) {
		n, err := s.msgRepo.UnreadCount(c.Request.Context(), s.me(c))
		if err != nil {
			slog.Error("unread count", "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "count failed")
			return
		}
		s.JSON(c, http.StatusOK, gin.H{"count": n})
	})

	// activity is the one-shot cold read of the activity map.
	r.GET("/api/messages/activity", func(c *gin.Context) {
		a := tracker.NewActivityTracker(s.me(c), s.msgRepo, s.bus, nil)
		a.SetPeers(c.Request.Context(), peersParam(c))
		s.JSON(c, http.StatusOK, gin.H{"last": a.Snapshot()})
	})

	r.GET("/api/messages/stream", s.handleStream)
	r.GET("/api/messages/ws", s.handleWS)
}
