package devcert

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/tlsutil"
)

func TestEnsureServesTLS(t *testing.T) {
	dir := t.TempDir()
	f, err := Ensure(dir, nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	srvCfg, err := tlsutil.ServerTLS(f.Cert, f.Key, "", false)
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	ts.TLS = srvCfg
	ts.StartTLS()
	defer ts.Close()

	cliCfg, err := tlsutil.ClientTLS(f.CACert, "127.0.0.1")
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	cli := &http.Client{Transport: &http.Transport{TLSClientConfig: cliCfg}}
	resp, err := cli.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEnsureReusesFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := Ensure(dir, []string{"localhost"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	before, _ := os.ReadFile(f.Cert)
	if _, err := Ensure(dir, []string{"localhost"}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	after, _ := os.ReadFile(f.Cert)
	if string(before) != string(after) {
		t.Fatalf("certificate regenerated")
	}
	if _, err := tls.LoadX509KeyPair(f.Cert, f.Key); err != nil {
		t.Fatalf("pair: %v", err)
	}
}

func TestServerTLSRequiresCAForClientAuth(t *testing.T) {
	f, err := Ensure(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := tlsutil.ServerTLS(f.Cert, f.Key, "", true); err == nil {
		t.Fatalf("mTLS without CA accepted")
	}
	cfg, err := tlsutil.ServerTLS(f.Cert, f.Key, f.CACert, true)
	if err != nil || cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Fatalf("cfg = %+v, %v", cfg, err)
	}
}
