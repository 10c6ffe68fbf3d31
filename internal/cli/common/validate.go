package common

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/objstore"
)

func fileExists(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

func ValidateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

// ValidateServerConfig checks the server section. strict additionally
// requires production secrets and existing policy files.
func ValidateServerConfig(v *viper.Viper, strict bool) error {
	if sub := v.Sub("server"); sub != nil {
		v = sub
	}
	if err := ValidateAddr(v.GetString("http_addr")); err != nil {
		return fmt.Errorf("http_addr: %w", err)
	}
	if strict && v.GetString("db.dsn") == "" {
		return fmt.Errorf("db.dsn missing")
	}
	secret := v.GetString("jwt_secret")
	if secret == "" {
		return fmt.Errorf("jwt_secret missing")
	}
	if strict && (secret == "dev-secret" || len(secret) < 16) {
		return fmt.Errorf("jwt_secret too weak for strict mode")
	}
	if d := v.GetDuration("session.role_timeout"); d < 0 {
		return fmt.Errorf("session.role_timeout: negative")
	}
	switch b := strings.ToLower(v.GetString("feed.driver")); b {
	case "", "memory":
	case "redis":
		if v.GetString("redis.addr") == "" {
			return fmt.Errorf("feed.driver=redis needs redis.addr")
		}
	default:
		return fmt.Errorf("feed.driver: unknown %q", b)
	}
	if v.GetBool("kafka.enabled") && len(v.GetStringSlice("kafka.brokers")) == 0 {
		return fmt.Errorf("kafka.brokers missing")
	}
	if v.IsSet("storage.driver") {
		var sc objstore.Config
		if err := v.UnmarshalKey("storage", &sc); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if err := objstore.Validate(sc); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	cert, key := v.GetString("tls.cert"), v.GetString("tls.key")
	if (cert == "") != (key == "") {
		return fmt.Errorf("tls.cert and tls.key must be set together")
	}
	for _, k := range []string{"tls.cert", "tls.key", "tls.ca"} {
		if p := v.GetString(k); p != "" {
			if err := fileExists(p); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}
	if strict && v.GetString("tls.dev_dir") != "" && cert == "" {
		return fmt.Errorf("tls.dev_dir is for development only")
	}
	for _, k := range []string{"rbac.model", "rbac.policy", "seed_file"} {
		if p := v.GetString(k); p != "" {
			if err := fileExists(p); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		} else if strict && k != "seed_file" {
			return fmt.Errorf("%s missing", k)
		}
	}
	return nil
}
