package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-tiercache/v1/config"
	"github.com/mirkobrombin/go-tiercache/v1/logging/zaplog"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
	"github.com/mirkobrombin/go-tiercache/v1/presets"
)

// CLI only flags; the rest are config keys.
const (
	flagConfig      = "config"
	flagStore       = "store"
	flagBoltPath    = "bolt-path"
	flagSQLiteDSN   = "sqlite-dsn"
	flagTrace       = "trace"
	flagMetricsAddr = "metrics-addr"
)

type app struct {
	v   *viper.Viper
	cfg config.Config
	log *zap.Logger

	reg   *prometheus.Registry
	srv   *http.Server
	tp    *sdktrace.TracerProvider
	stack *presets.Stack

	closers []func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:                "tiercache",
		Short:              "Operate a two-tier cache and its distributed locks",
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	f := root.PersistentFlags()
	f.String(flagConfig, "", "config file (yaml, toml or json)")
	f.String(flagStore, "redis", "distributed store: redis, sqlite, bolt or memory")
	f.String(flagBoltPath, "tiercache.db", "bbolt file used by --store=bolt")
	f.String(flagSQLiteDSN, "tiercache.sqlite", "SQLite DSN used by --store=sqlite")
	f.Bool(flagTrace, false, "print spans to stdout")
	f.String(flagMetricsAddr, "", "serve Prometheus metrics on this address while the command runs")

	f.String(config.KeyRedisAddr, "localhost:6379", "redis address")
	f.String(config.KeyRedisPassword, "", "redis password")
	f.Int(config.KeyRedisDB, 0, "redis database")
	f.String(config.KeyRedisPrefix, "tiercache:", "namespace prepended to every redis key")
	f.Duration(config.KeyRedisTimeout, 5*time.Second, "per operation redis timeout")
	f.Int(config.KeyDefaultCacheTime, 60, "default cache time in minutes")
	f.Int(config.KeyShortTermCacheTime, 3, "short term cache time in minutes")
	f.Duration(config.KeyLockTTL, 30*time.Second, "lock and task sentinel ttl")
	f.Duration(config.KeyHeartbeatInterval, 10*time.Second, "task heartbeat interval")
	f.String(config.KeyCodec, "json", "value codec: json, gob, msgpack or cbor")
	f.String(config.KeyLocalStrategy, "lru", "local tier eviction: lru, lfu or adaptive")
	f.String(config.KeyLogLevel, "info", "log level")
	_ = a.v.BindPFlags(f)

	root.AddCommand(newKeyCmd(a), newCacheCmd(a), newTaskCmd(a), newLockCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.ReadFile(a.v, a.v.GetString(flagConfig)); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.log, err = newLogger(cfg.LogLevel); err != nil {
		return err
	}

	if a.v.GetBool(flagTrace) {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		a.tp = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		otel.SetTracerProvider(a.tp)
	}

	if addr := a.v.GetString(flagMetricsAddr); addr != "" {
		a.reg = metrics.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
		a.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.stack != nil {
		errs = append(errs, a.stack.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	if a.srv != nil {
		errs = append(errs, a.srv.Shutdown(ctx))
	}
	if a.tp != nil {
		errs = append(errs, a.tp.Shutdown(ctx))
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// open builds the stack for the selected store on first use.
func (a *app) open() (*presets.Stack, error) {
	if a.stack != nil {
		return a.stack, nil
	}
	opts := []presets.Option{presets.WithLogger(zaplog.New(a.log))}
	if a.reg != nil {
		opts = append(opts, presets.WithMetrics(a.reg))
	}
	if a.tp != nil {
		opts = append(opts, presets.WithTracing())
	}

	var (
		s   *presets.Stack
		err error
	)
	switch store := a.v.GetString(flagStore); store {
	case "redis":
		s, err = presets.NewRedis(a.cfg, opts...)
	case "bolt":
		s, err = presets.NewBolt(a.v.GetString(flagBoltPath), a.cfg, opts...)
	case "sqlite":
		var db *gorm.DB
		if db, err = a.openSQLite(); err != nil {
			return nil, err
		}
		s, err = presets.NewGorm(db, a.cfg, opts...)
	case "memory":
		s, err = presets.NewInMemory(a.cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown store %q", store)
	}
	if err != nil {
		return nil, err
	}
	a.stack = s
	return s, nil
}

func (a *app) openSQLite() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(a.v.GetString(flagSQLiteDSN)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)
	return db, nil
}
