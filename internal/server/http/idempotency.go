package httpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/idempotency"
)

const headerIdempotencyKey = "Idempotency-Key"

// captureWriter keeps a copy of the response body for replay.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent replays the stored response when a caller retries a request
// with the same Idempotency-Key and body. The key is reserved before the
// handler runs, so a concurrent duplicate gets 409 instead of a second write.
// Only 2xx responses are stored; anything else releases the key.
func (s *Server) idempotent(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerIdempotencyKey)
		if s.idem == nil || key == "" {
			c.Next()
			return
		}
		if len(key) > 255 {
			s.respondError(c, http.StatusBadRequest, "bad_request", "idempotency key too long")
			c.Abort()
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "unreadable body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		ctx, me, hash := c.Request.Context(), s.me(c), idempotency.Hash(body)

		rec, err := s.idem.Reserve(ctx, key, me, scope, hash)
		switch {
		case errors.Is(err, idempotency.ErrKeyReused):
			s.respondError(c, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
			c.Abort()
			return
		case errors.Is(err, idempotency.ErrInProgress):
			s.respondError(c, http.StatusConflict, "idempotency_in_progress", err.Error())
			c.Abort()
			return
		case err != nil:
			slog.Error("idempotency reserve", "scope", scope, "error", err)
			s.respondError(c, http.StatusInternalServerError, "internal_error", "lookup failed")
			c.Abort()
			return
		case rec != nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.StatusCode, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			c.Abort()
			return
		}

		done := false
		defer func() {
			if done {
				return
			}
			// request context may already be cancelled
			if err := s.idem.Release(context.WithoutCancel(ctx), key, me, scope); err != nil {
				slog.Warn("idempotency release", "scope", scope, "error", err)
			}
		}()

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()
		if st := w.Status(); st >= 200 && st < 300 {
			if err := s.idem.Complete(ctx, key, me, scope, st, w.buf.Bytes()); err != nil {
				slog.Warn("idempotency complete", "scope", scope, "error", err)
				return
			}
			done = true
		}
	}
}
