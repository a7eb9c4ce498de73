// Command server runs the real-time chat core: it wires configuration,
// logging, tracing, the SQLite-backed stores, the authentication verifier,
// and the websocket gateway into one HTTP server, then drains gracefully
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-chat-server/internal/auth"
	"github.com/tbourn/go-chat-server/internal/config"
	httpapi "github.com/tbourn/go-chat-server/internal/http"
	"github.com/tbourn/go-chat-server/internal/observability"
	"github.com/tbourn/go-chat-server/internal/repo"
	"github.com/tbourn/go-chat-server/internal/services"
	"github.com/tbourn/go-chat-server/internal/sysutil"
	"github.com/tbourn/go-chat-server/internal/ws"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = zerolog.New(sysutil.LogWriter(cfg.LogPretty)).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin failed")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	roomSvc := &services.RoomService{DB: db, MessagePageSize: cfg.PageSize}
	msgSvc := &services.MessageService{DB: db}
	verifier := &auth.JWTVerifier{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer}

	gw := ws.NewGateway(verifier, roomSvc, msgSvc, ws.Options{
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
		EventTimeout:   cfg.WS.EventTimeout,
	}, log.Logger)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, gw, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	gw.Close()
}
