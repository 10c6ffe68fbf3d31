package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	obj "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/objstore"
)

func (s *Server) uploadRoutes(r *gin.Engine) {
	r.POST("/api/uploads", s.handleUpload)
	r.GET("/api/uploads/url", s.handleUploadURL)
	if fs, ok := s.obj.(*obj.FileStore); ok {
		r.GET(obj.PublicPrefix+"*key", func(c *gin.Context) {
			f, err := fs.Open(strings.TrimPrefix(c.Param("key"), "/"), c.Query("exp"), c.Query("sig"))
			if err != nil {
				s.notFound(c)
				return
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				s.notFound(c)
				return
			}
			http.ServeContent(c.Writer, c.Request, st.Name(), st.ModTime(), f)
		})
	}
}

// ownsKey: attachment keys are namespaced by uploader id.
func ownsKey(me, key string) bool {
	return strings.HasPrefix(strings.TrimLeft(key, "/"), me+"/")
}

// mayAttach: a caller may reference its own uploads or attachments it has
// received, so forwarding keeps working.
func (s *Server) mayAttach(ctx context.Context, me, key string) (bool, error) {
	if ownsKey(me, key) {
		return true, nil
	}
	return s.msgRepo.HasAttachment(ctx, me, key)
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.obj == nil {
		s.respondError(c, http.StatusServiceUnavailable, "unavailable", "storage not available")
		return
	}
	me := s.me(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	f, fh, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(c, http.StatusRequestEntityTooLarge, "request_too_large", "request too large")
			return
		}
		s.respondError(c, http.StatusBadRequest, "bad_request", "missing file")
		return
	}
	defer f.Close()

	tmp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		slog.Error("upload temp", "error", err)
		s.respondError(c, http.StatusInternalServerError, "internal_error", "upload failed")
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := io.Copy(tmp, f); err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "upload failed")
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "upload failed")
		return
	}
	key := fmt.Sprintf("%s/%d_%s", me, time.Now().UnixNano(), filepath.Base(fh.Filename))
	ct := fh.Header.Get("Content-Type")
	ctx := c.Request.Context()
	if err := s.obj.Put(ctx, key, tmp, fh.Size, ct); err != nil {
		slog.Error("upload put", "error", err, "user", me, "key", key, "size", fh.Size)
		s.respondError(c, http.StatusInternalServerError, "internal_error", "upload store failed")
		return
	}
	url, err := s.obj.SignedURL(ctx, key, http.MethodGet, s.cfg.SignedURLTTL)
	if err != nil {
		slog.Error("upload signed url", "error", err, "key", key)
	}
	s.auditLog("upload", me, key, map[string]string{"size": fmt.Sprint(fh.Size)})
	s.JSON(c, http.StatusCreated, gin.H{"key": key, "url": url})
}

// handleUploadURL re-signs an attachment. Uploaders may sign their own keys;
// other callers need a message addressed to them that references the key.
func (s *Server) handleUploadURL(c *gin.Context) {
	if s.obj == nil {
		s.respondError(c, http.StatusServiceUnavailable, "unavailable", "storage not available")
		return
	}
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		s.respondError(c, http.StatusBadRequest, "bad_request", "key required")
		return
	}
	me := s.me(c)
	ctx := c.Request.Context()
	ok, err := s.mayAttach(ctx, me, key)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "lookup failed")
		return
	}
	if !ok {
		s.respondError(c, http.StatusForbidden, "forbidden", "forbidden")
		return
	}
	url, err := s.obj.SignedURL(ctx, key, http.MethodGet, s.cfg.SignedURLTTL)
	if err != nil {
		slog.Error("sign url", "error", err, "key", key)
		s.respondError(c, http.StatusInternalServerError, "internal_error", "sign failed")
		return
	}
	s.JSON(c, http.StatusOK, gin.H{"key": key, "url": url})
}
