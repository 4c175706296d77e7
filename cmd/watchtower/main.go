// Command watchtower runs the supply-chain worker: it drains the job
// queues, analyzes watched npm packages, and dispatches version-bump
// PRs.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quay/zlog"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dephealth/watchtower/analyzer"
	"github.com/dephealth/watchtower/autobump"
	"github.com/dephealth/watchtower/datastore/postgres"
	"github.com/dephealth/watchtower/queue"
	"github.com/dephealth/watchtower/worker"
)

// Config this struct is using the goconfig library for simple flag and env var
// parsing. See: https://github.com/crgimenes/goconfig
type Config struct {
	RedisURL   string `cfg:"UPSTASH_REDIS_URL" cfgHelper:"Redis endpoint holding the job queues; required"`
	RedisToken string `cfg:"UPSTASH_REDIS_TOKEN" cfgHelper:"Password for the Redis endpoint; required"`

	ConnString string `cfgDefault:"host=localhost port=5432 user=watchtower dbname=watchtower sslmode=disable" cfg:"CONNECTION_STRING" cfgHelper:"Connection string for the datastore"`
	Migrations bool   `cfgDefault:"true" cfg:"MIGRATIONS" cfgHelper:"Run datastore migrations on startup"`

	PRServiceURL string `cfgDefault:"http://localhost:8090/" cfg:"PR_SERVICE_URL" cfgHelper:"Base URL of the bump PR service"`

	MainQueue       string `cfg:"WATCHTOWER_QUEUE_NAME" cfgHelper:"Override the main queue name"`
	NewVersionQueue string `cfg:"WATCHTOWER_NEW_VERSION_QUEUE_NAME" cfgHelper:"Override the new-version queue name"`
	BatchQueue      string `cfg:"WATCHTOWER_BATCH_VERSION_QUEUE_NAME" cfgHelper:"Override the batch queue name"`

	NodeEnv           string `cfgDefault:"development" cfg:"NODE_ENV" cfgHelper:"Deployment tier: production, development, test"`
	IntrospectionAddr string `cfgDefault:"0.0.0.0:8089" cfg:"INTROSPECTION_ADDR" cfgHelper:"Address for the metrics endpoint"`
	LogLevel          string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warn, error, fatal, panic"`
}

func main() {
	ctx := context.Background()
	conf := Config{}
	if err := goconfig.Parse(&conf); err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}

	l := zerolog.New(os.Stderr).Level(logLevel(conf)).With().Timestamp().Logger()
	zlog.Set(&l)

	// The shared CI environment runs the API test suites with the
	// worker's variables present; the worker must not touch the queues
	// there.
	if conf.NodeEnv == "test" {
		zlog.Info(ctx).Msg("test environment, worker entrypoint disabled")
		return
	}
	if conf.RedisURL == "" || conf.RedisToken == "" {
		zlog.Error(ctx).Msg("queue credentials not configured, refusing to start")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ropts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to parse queue URL")
		os.Exit(1)
	}
	ropts.Password = conf.RedisToken
	rc := redis.NewClient(ropts)
	defer rc.Close()

	pool, err := postgres.Connect(ctx, conf.ConnString, "watchtower")
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to connect to the datastore")
		os.Exit(1)
	}
	defer pool.Close()
	store, err := postgres.InitPostgresStore(ctx, pool, queue.NewInvalidator(rc), conf.Migrations)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to initialize the datastore")
		os.Exit(1)
	}

	an, err := analyzer.New(analyzer.Options{})
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to initialize the analyzer")
		os.Exit(1)
	}
	pr, err := autobump.NewClient(conf.PRServiceURL, nil)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to initialize the PR service client")
		os.Exit(1)
	}

	names := worker.QueueNames{
		NewVersion: queueName(conf.NewVersionQueue, "watchtower-new-version", conf.NodeEnv),
		Main:       queueName(conf.MainQueue, "watchtower-jobs", conf.NodeEnv),
		Batch:      queueName(conf.BatchQueue, "watchtower-batch-version", conf.NodeEnv),
	}
	w := worker.New(queue.NewRedis(rc), names, store, an, autobump.New(store, an, pr))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:        conf.IntrospectionAddr,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	go func() {
		zlog.Info(ctx).Str("addr", conf.IntrospectionAddr).Msg("serving metrics")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			zlog.Error(ctx).Err(err).Msg("introspection server failed")
		}
	}()

	err = w.Run(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		zlog.Error(ctx).Err(err).Msg("worker exited")
	}

	tctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(tctx); err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to shut down introspection server")
	}
}

// queueName picks the queue list name: an explicit override wins,
// otherwise the base name gets a -local suffix outside production so
// deployment tiers cannot intercept each other's jobs.
func queueName(override, base, env string) string {
	if override != "" {
		return override
	}
	if env == "production" {
		return base
	}
	return base + "-local"
}

func logLevel(conf Config) zerolog.Level {
	level := strings.ToLower(conf.LogLevel)
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
