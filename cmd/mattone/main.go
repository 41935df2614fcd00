package main

import (
	"context"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mattone/internal/auth"
	"mattone/internal/config"
	"mattone/internal/geoip"
	"mattone/internal/httputil"
	"mattone/internal/playlist"
	"mattone/internal/relay"
	"mattone/internal/scheduler"
	"mattone/internal/server"
	"mattone/internal/store"
	"mattone/migrations"
)

func main() {
	cfg, err := config.Load(os.Getenv("MATTONE_CONFIG_FILE"))
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			log.Fatal(err)
		}
	}

	s, err := store.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	var migrationsFS fs.FS = migrations.FS
	if cfg.Database.MigrationsDir != "" {
		migrationsFS = os.DirFS(cfg.Database.MigrationsDir)
	}
	if err := s.Migrate(migrationsFS); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	issuer := cfg.IssuerURL()
	if issuer == "" {
		log.Fatal("no identity provider configured: set MATTONE_OIDC_ISSUER or MATTONE_COGNITO_REGION and MATTONE_COGNITO_USER_POOL_ID")
	}
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	authSvc, err := auth.NewService(initCtx, auth.Config{
		Issuer:       issuer,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  cfg.OIDC.RedirectURL,
	}, s)
	cancelInit()
	if err != nil {
		log.Fatalf("initializing auth: %v", err)
	}
	log.Printf("verifying tokens issued by %s", issuer)

	geoResolver := geoip.NewResolver(cfg.GeoIP.DBPath)
	defer geoResolver.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := relay.NewHub(s,
		relay.WithHeartbeatInterval(cfg.Relay.HeartbeatInterval),
		relay.WithQueueSize(cfg.Relay.QueueSize),
		relay.WithMetrics(relay.NewMetrics(reg)),
	)

	fetcher := playlist.NewFetcher(
		playlist.WithHTTPClient(httputil.NewClientWithTimeout(cfg.Playlist.FetchTimeout)),
		playlist.WithMaxBytes(cfg.Playlist.MaxBytes),
	)

	opts := []server.Option{
		server.WithAuth(authSvc),
		server.WithGeoResolver(geoResolver),
		server.WithFetcher(fetcher),
		server.WithMetrics(reg),
	}
	if cfg.Server.CORSOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(cfg.Server.CORSOrigin))
	}
	if authSvc.LoginEnabled() {
		opts = append(opts, server.WithLoginFlow(authSvc))
		log.Println("OIDC browser login enabled")
	}
	srv := server.NewServer(s, hub, opts...)

	sch := scheduler.New(s, scheduler.WithInterval(cfg.Housekeeping.Interval))
	sch.Start(context.Background())
	defer sch.Stop()

	// Device streams never finish on their own; cancelling this context
	// ends them so Shutdown can drain.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("mattone listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down, closing %d device sessions", hub.Registry().Len())
	cancelStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
