package httpserver

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	obj "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/objstore"
)

func TestUploadAndSignedDownload(t *testing.T) {
	e := setupServer(t)
	fs, err := obj.NewFileStore(obj.Config{Driver: "file", BaseDir: t.TempDir(), URLSecret: "k"})
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	e.s.obj = fs
	e.r = e.s.ginEngine()
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)
	e.add(t, "other", domain.RoleUser)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "brief.txt")
	_, _ = fw.Write([]byte("logo ideas"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.tokens["owner"])
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	var up struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	decode(t, w, &up)

	dl := httptest.NewRecorder()
	e.r.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, up.URL, nil))
	if dl.Code != http.StatusOK {
		t.Fatalf("download = %d", dl.Code)
	}
	if b, _ := io.ReadAll(dl.Body); string(b) != "logo ideas" {
		t.Fatalf("content = %q", b)
	}
	u, _ := url.Parse(up.URL)
	q := u.Query()
	q.Set("sig", "forged")
	u.RawQuery = q.Encode()
	bad := httptest.NewRecorder()
	e.r.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, u.String(), nil))
	if bad.Code != http.StatusNotFound {
		t.Fatalf("forged signature = %d", bad.Code)
	}

	path := "/api/uploads/url?key=" + url.QueryEscape(up.Key)
	if w := e.do(t, http.MethodGet, path, "helper", nil); w.Code != http.StatusForbidden {
		t.Fatalf("unrelated user re-signed = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/messages", "owner", map[string]string{"receiver_id": e.ids["helper"], "file_url": up.Key}); w.Code != http.StatusCreated {
		t.Fatalf("send attachment = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodGet, path, "helper", nil); w.Code != http.StatusOK {
		t.Fatalf("receiver re-sign = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, path, "other", nil); w.Code != http.StatusForbidden {
		t.Fatalf("third party re-sign = %d", w.Code)
	}
}

func TestUploadWithoutStorage(t *testing.T) {
	e := setupServer(t)
	e.add(t, "owner", domain.RoleUser)
	if w := e.do(t, http.MethodPost, "/api/uploads", "owner", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func (e *testEnv) upload(t *testing.T, who, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", name)
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.tokens[who])
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	var up struct {
		Key string `json:"key"`
	}
	decode(t, w, &up)
	return up.Key
}

func TestForeignAttachmentKeyIsRejected(t *testing.T) {
	e := setupServer(t)
	fs, err := obj.NewFileStore(obj.Config{Driver: "file", BaseDir: t.TempDir(), URLSecret: "k"})
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	e.s.obj = fs
	e.r = e.s.ginEngine()
	e.add(t, "owner", domain.RoleUser)
	e.add(t, "helper", domain.RoleAssist)
	e.add(t, "mallory", domain.RoleUser)
	e.add(t, "friend", domain.RoleUser)

	key := e.upload(t, "owner", "private.txt", "bank details")
	path := "/api/uploads/url?key=" + url.QueryEscape(key)
	if w := e.do(t, http.MethodGet, path, "mallory", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger re-sign = %d", w.Code)
	}
	w := e.do(t, http.MethodPost, "/api/messages", "mallory", map[string]string{"receiver_id": e.ids["friend"], "file_url": key})
	if w.Code != http.StatusForbidden {
		t.Fatalf("sending someone else's key = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodGet, path, "mallory", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger re-sign after send = %d", w.Code)
	}

	// a received attachment may be forwarded
	if w := e.do(t, http.MethodPost, "/api/messages", "owner", map[string]string{"receiver_id": e.ids["helper"], "file_url": key}); w.Code != http.StatusCreated {
		t.Fatalf("owner send = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/messages", "helper", map[string]string{"receiver_id": e.ids["friend"], "file_url": key}); w.Code != http.StatusCreated {
		t.Fatalf("forward = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodGet, path, "friend", nil); w.Code != http.StatusOK {
		t.Fatalf("forward receiver re-sign = %d", w.Code)
	}
}
