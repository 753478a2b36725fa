// Package main is the entry point for the genai-rotator proxy: it loads
// configuration, starts the credential store, wires the gateway and
// telemetry pipeline, and serves HTTP until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullstream-labs/genai-rotator/internal/buildinfo"
	"github.com/nullstream-labs/genai-rotator/internal/config"
	"github.com/nullstream-labs/genai-rotator/internal/credstore"
	"github.com/nullstream-labs/genai-rotator/internal/credstore/cryptoenv"
	"github.com/nullstream-labs/genai-rotator/internal/gateway"
	"github.com/nullstream-labs/genai-rotator/internal/httpapi"
	"github.com/nullstream-labs/genai-rotator/internal/logging"
	"github.com/nullstream-labs/genai-rotator/internal/lro"
	"github.com/nullstream-labs/genai-rotator/internal/rotate"
	"github.com/nullstream-labs/genai-rotator/internal/telemetry"
	"github.com/nullstream-labs/genai-rotator/internal/vertextoken"
	log "github.com/sirupsen/logrus"
)

var (
	// Version, Commit and BuildDate are overridden via -ldflags at release build time.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const tokenCacherWorkers = 8

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the YAML configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("genai-rotator %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	log.Infof("genai-rotator %s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var encryptionKey []byte
	if cfg.Security.CredentialEncryptionKey != "" {
		encryptionKey, err = cryptoenv.DeriveKey(cfg.Security.CredentialEncryptionKey)
		if err != nil {
			log.Fatalf("failed to derive credential encryption key: %v", err)
		}
	}

	store := credstore.NewStore(cfg.Paths.CredsRoot, encryptionKey)
	if err = store.Load(); err != nil {
		log.Errorf("initial credential load reported errors: %v", err)
	}

	geminiRotator := rotate.NewGeminiRotator(store)
	vertexRotator := rotate.NewVertexRotator(store)
	store.OnReload(func() {
		geminiRotator.Reset()
		vertexRotator.Reset()
	})

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err = store.Watch(watchCtx); err != nil {
		log.Errorf("failed to start credential file watcher: %v", err)
	}
	tokens := vertextoken.NewCacher(tokenCacherWorkers)
	lroCache := lro.NewCache(cfg.Telemetry.LROCacheCapacity, time.Duration(cfg.Telemetry.LROCacheTTLSeconds)*time.Second)

	var sink *telemetry.Sink
	var recorder *telemetry.Recorder
	if cfg.Database.DSN != "" {
		sinkCtx, cancelSink := context.WithTimeout(context.Background(), 30*time.Second)
		sink, err = telemetry.NewSink(sinkCtx, telemetry.SinkConfig{DSN: cfg.Database.DSN, Schema: cfg.Database.Schema})
		cancelSink()
		if err != nil {
			log.Fatalf("failed to connect telemetry database: %v", err)
		}
		defer func() { _ = sink.Close() }()

		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
		if err = sink.EnsureSchema(schemaCtx); err != nil {
			log.Fatalf("failed to ensure telemetry schema: %v", err)
		}
		cancelSchema()
	} else {
		log.Warn("database.dsn is empty; telemetry recording is disabled")
	}
	recorder = telemetry.NewRecorder(sink)
	defer recorder.Close()

	gwCfg := gateway.Config{
		GeminiBaseURL:        cfg.Services.GeminiBaseURL,
		VertexBaseURL:        cfg.Services.VertexBaseURL,
		MaxRetries:           cfg.Services.MaxRetries,
		StoreRequestBodies:   cfg.Services.StoreRequestBodies,
		RetryableStatuses:    cfg.RetryableStatusSet(),
		StreamBufferCapBytes: cfg.Telemetry.StreamBufferCapBytes,
		TrustProxyHeaders:    cfg.Security.TrustProxyHeaders,
	}
	gw := gateway.New(gwCfg, geminiRotator, vertexRotator, tokens, lroCache, recorder, nil)

	engine := httpapi.NewRouter(cfg, gw, sink, geminiRotator, vertexRotator)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Address)
		var errServe error
		if cfg.Server.TLS.Enabled {
			errServe = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errServe = srv.ListenAndServe()
		}
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
	case errServe := <-serveErr:
		if errServe != nil {
			log.Errorf("server error: %v", errServe)
		}
		return
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGraceSeconds)*time.Second)
	defer cancelShutdown()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
	<-serveErr
}
