// Package tlsutil builds TLS configs for the HTTP listener.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config is the tls: section of the server config.
type Config struct {
	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`
	CAFile   string `mapstructure:"ca"`
	// RequireClient enforces client certificates signed by CAFile.
	RequireClient bool `mapstructure:"require_client"`
	// DevDir, when set and no cert is configured, holds a generated
	// development CA and server certificate.
	DevDir string `mapstructure:"dev_dir"`
}

func (c Config) Enabled() bool { return c.CertFile != "" || c.DevDir != "" }

// ServerTLS loads the key pair and, with requireClient, the client CA pool.
func ServerTLS(certFile, keyFile, caFile string, requireClient bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if requireClient {
		if caFile == "" {
			return nil, fmt.Errorf("ca certificate required for mTLS")
		}
		pool, err := loadPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientTLS trusts caFile; used by health checks and tests talking to the listener.
func ClientTLS(caFile, serverName string) (*tls.Config, error) {
	pool, err := loadPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{RootCAs: pool, ServerName: serverName, MinVersion: tls.VersionTLS12}, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("append ca: invalid pem")
	}
	return pool, nil
}
