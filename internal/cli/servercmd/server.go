// Package servercmd is the `website-assistant server` command.
package servercmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	auditchain "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/audit/chain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/identity"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/rbac"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/token"
	common "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/cli/common"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/db"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/devcert"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domains"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/hotreload"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/idempotency"
	msgsgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/messages"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
	obj "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/objstore"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
	httpserver "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/server/http"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/telemetry"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/tlsutil"
)

// New returns the server command. Configuration comes from an optional YAML
// file (a top-level server: section is preferred), WAP_* environment
// variables and flags, in increasing precedence.
func New() *cobra.Command {
	var cfgFile, profile string
	var includes []string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the website assistant API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLoggerWithFile("info", "console", "", 0, 0, 0, false)
			v, err := loadConfig(cfgFile, includes, profile)
			if err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			common.MergeLogSection(v)
			var lc common.LogConfig
			if err := v.UnmarshalKey("log", &lc); err != nil {
				return fmt.Errorf("log config: %w", err)
			}
			common.SetupLogger(lc)
			if err := common.ValidateServerConfig(v, v.GetBool("strict")); err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, v)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml), supports top-level 'server:' section")
	cmd.Flags().StringSliceVar(&includes, "include", nil, "extra config files merged over --config in order")
	cmd.Flags().StringVar(&profile, "profile", "", "overlay server.profiles.<name>")
	cmd.Flags().String("http_addr", ":8080", "http api listen address")
	cmd.Flags().String("db.dsn", "", "database DSN (postgres:// or sqlite file), empty uses data/website-assistant.db")
	cmd.Flags().String("jwt_secret", "dev-secret", "jwt hs256 secret")
	cmd.Flags().Duration("session.role_timeout", 8*time.Second, "role lookup timeout")
	cmd.Flags().String("feed.driver", "memory", "change feed: memory|redis")
	cmd.Flags().String("redis.addr", "", "redis address; enables redis sessions and domain cache")
	cmd.Flags().String("rbac.model", "", "casbin model file (default embedded)")
	cmd.Flags().String("rbac.policy", "", "casbin policy csv (default embedded, hot reloaded when set)")
	cmd.Flags().String("audit_log", "logs/audit.log", "hash-chained audit log path")
	cmd.Flags().String("seed_file", "", "yaml file of users provisioned on boot")
	cmd.Flags().String("tls.cert", "", "TLS certificate file")
	cmd.Flags().String("tls.key", "", "TLS key file")
	cmd.Flags().String("tls.dev_dir", "", "generate and serve a development certificate from this directory")
	cmd.Flags().Duration("idempotency.ttl", idempotency.DefaultTTL, "how long Idempotency-Key responses are replayed")
	cmd.Flags().Bool("strict", false, "reject development defaults")
	cmd.Flags().String("log.level", "info", "log level: debug|info|warn|error")
	cmd.Flags().String("log.format", "console", "log format: console|json")
	return cmd
}

func loadConfig(cfgFile string, includes []string, profile string) (*viper.Viper, error) {
	v := viper.New()
	if cfgFile != "" {
		loaded, err := common.LoadWithIncludes(cfgFile, includes)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config loaded", "file", cfgFile, "includes", includes)
		v = loaded
		if v.Sub("server") != nil {
			if v, err = common.ApplySectionAndProfile(v, "server", profile); err != nil {
				return nil, err
			}
		} else if profile != "" {
			if v, err = common.ApplySectionAndProfile(v, "", profile); err != nil {
				return nil, err
			}
		}
	}
	v.SetEnvPrefix("WAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v, nil
}

func run(ctx context.Context, v *viper.Viper) error {
	tcfg := telemetry.DefaultConfig()
	if err := v.UnmarshalKey("telemetry", &tcfg); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}
	tp, err := telemetry.NewProvider(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdown("telemetry", tp.Shutdown)

	gdb, err := db.Open(v.GetString("db.dsn"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	var rdb *redis.Client
	if addr := v.GetString("redis.addr"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: v.GetString("redis.password"), DB: v.GetInt("redis.db")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
	}

	var bus feed.Bus
	if strings.EqualFold(v.GetString("feed.driver"), "redis") {
		rb, err := feed.NewRedisBus(ctx, rdb, v.GetString("feed.prefix"))
		if err != nil {
			return err
		}
		bus = rb
	} else {
		bus = feed.NewMemoryBus(v.GetInt("feed.buffer"))
	}
	if v.GetBool("kafka.enabled") {
		bus = feed.Tee(bus, feed.NewKafkaMirror(v.GetStringSlice("kafka.brokers"), v.GetString("kafka.topic")))
	}
	defer bus.Close()

	users := usersgorm.New(gdb)
	msgs := msgsgorm.NewRepo(gdb, bus)

	if p := v.GetString("seed_file"); p != "" {
		sf, err := LoadSeed(p)
		if err != nil {
			return err
		}
		if _, err := Seed(ctx, users, sf); err != nil {
			return err
		}
	}

	var sessions identity.SessionStore = identity.NewMemoryStore()
	var dcache domains.Cache = domains.NewMemoryCache()
	if rdb != nil {
		sessions = identity.NewRedisStore(rdb)
		dcache = domains.NewRedisCache(rdb)
	}
	tokens := token.NewManager(v.GetString("jwt_secret"), v.GetDuration("token.access_ttl"), v.GetDuration("token.refresh_ttl"))
	auth := identity.NewService(users, tokens, sessions)

	policy, err := rbac.NewCasbinPolicy(v.GetString("rbac.model"), v.GetString("rbac.policy"))
	if err != nil {
		return fmt.Errorf("rbac: %w", err)
	}
	watcher, err := hotreload.New(hotreload.DefaultDebounce, slog.Default())
	if err != nil {
		return err
	}
	if err := policy.Watch(watcher); err != nil {
		return fmt.Errorf("watch rbac policy: %w", err)
	}
	go watcher.Run(ctx)

	aw, err := auditchain.NewWriter(v.GetString("audit_log"))
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer aw.Close()

	var store obj.Store
	if v.IsSet("storage.driver") {
		var sc obj.Config
		if err := v.UnmarshalKey("storage", &sc); err != nil {
			return err
		}
		if store, err = obj.Open(ctx, sc); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}

	var dopts domains.Options
	if err := v.UnmarshalKey("domains", &dopts); err != nil {
		return err
	}

	idem := idempotency.NewManager(gdb, v.GetDuration("idempotency.ttl"))
	go sweepIdempotency(ctx, idem, time.Hour)

	tc, err := listenerTLS(v)
	if err != nil {
		return err
	}

	var hcfg httpserver.Config
	if err := v.UnmarshalKey("http", &hcfg); err != nil {
		return err
	}
	hcfg.RoleTimeout = v.GetDuration("session.role_timeout")
	srv, err := httpserver.NewServer(hcfg, httpserver.Deps{
		Auth:     auth,
		Users:    users,
		Messages: msgs,
		Bus:      bus,
		Policy:   policy,
		Audit:    aw,
		Store:    store,
		Domains:  domains.NewChecker(dopts, dcache),

		Idempotency: idem,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(v.GetString("http_addr"), tc) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdown("http", srv.Shutdown)
	return <-errc
}

func shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("shutdown", "component", name, "error", err)
	}
}

func listenerTLS(v *viper.Viper) (*tls.Config, error) {
	tcfg := tlsutil.Config{
		CertFile:      v.GetString("tls.cert"),
		KeyFile:       v.GetString("tls.key"),
		CAFile:        v.GetString("tls.ca"),
		RequireClient: v.GetBool("tls.require_client"),
		DevDir:        v.GetString("tls.dev_dir"),
	}
	if !tcfg.Enabled() {
		return nil, nil
	}
	if tcfg.CertFile == "" {
		f, err := devcert.Ensure(tcfg.DevDir, v.GetStringSlice("tls.hosts"))
		if err != nil {
			return nil, err
		}
		slog.Warn("serving a development certificate", "ca", f.CACert)
		tcfg.CertFile, tcfg.KeyFile = f.Cert, f.Key
		if tcfg.CAFile == "" {
			tcfg.CAFile = f.CACert
		}
	}
	return tlsutil.ServerTLS(tcfg.CertFile, tcfg.KeyFile, tcfg.CAFile, tcfg.RequireClient)
}

func sweepIdempotency(ctx context.Context, m *idempotency.Manager, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := m.CleanExpired(ctx); err != nil {
				slog.Warn("idempotency sweep", "error", err)
			} else if n > 0 {
				slog.Debug("idempotency sweep", "removed", n)
			}
		}
	}
}
