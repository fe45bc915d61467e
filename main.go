package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-server/access"
	"collab-server/auth"
	"collab-server/collab"
	"collab-server/config"
	"collab-server/handlers/websocket"
	"collab-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func setupRouter(cfg config.Config, st *stores.Stores, handler *websocket.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handler.Mount(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if pinger, ok := st.Presence.(interface{ Ping(context.Context) error }); ok {
			if err := pinger.Ping(r.Context()); err != nil {
				logrus.WithError(err).Warn("Presence backend unhealthy")
				render.Status(r, http.StatusServiceUnavailable)
				status["status"] = "degraded"
			}
		}
		render.JSON(w, r, status)
	})

	return r
}

func main() {
	// Define a log level flag
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	// Set the log level
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*listenAddr); err != nil {
		logrus.WithError(err).Fatal("Server stopped")
	}
}

func run(listenAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg := config.Load()
	st, err := stores.GetStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close stores")
		}
	}()

	broker := collab.NewBroker(collab.Config{
		PresenceTTL:   cfg.PresenceTTL,
		SendQueueSize: cfg.SendQueueSize,
		SaveAttempts:  cfg.SaveAttempts,
		HistoryLimit:  cfg.HistoryLimit,
	}, collab.Deps{
		Auth:     auth.NewGate(cfg.JWTSecret, st.Directory),
		Access:   access.NewChecker(st.Directory),
		Presence: st.Presence,
		EditLog:  st.EditLog,
		Comments: st.Comments,
	})

	r := setupRouter(cfg, st, websocket.NewHandler(broker, cfg.AllowedOrigins))
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Sessions inherit this context and close with 1001 on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", listenAddr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := broker.Drain(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Sessions still open at shutdown")
		}
		return nil
	})

	return g.Wait()
}
