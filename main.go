package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/circulation/fines"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/httpx"
	"LIBRIS-backend/internal/platform/telemetry"
	"LIBRIS-backend/internal/storage/memstore"
	"LIBRIS-backend/internal/storage/sqlstore"
)

// storage は起動時に選んだ永続化層。
type storage struct {
	books books.Store
	loans loans.Store
	fines fines.Store
	tx    db.Transactor
	close func() error
}

func main() {
	configPath := flag.String("config", db.DefaultConfigPath, "path to config.yaml")
	flag.Parse()

	// 設定読み込み
	cfg, err := db.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Mode)
	slog.SetDefault(logger)
	logger.Info("starting", "mode", cfg.Mode, "version", cfg.Version, "driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error("storage close failed", "error", err)
		}
	}()

	// メトリクス（telemetry.enabled なら OTLP へ送る）
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	otel.SetMeterProvider(meterProvider)
	logger.Info("telemetry", "enabled", cfg.Telemetry.Enabled, "endpoint", cfg.Telemetry.OTLPEndpoint)

	policy := loans.Policy{LoanPeriod: cfg.Policy.LoanPeriod(), DailyRate: cfg.Policy.Rate()}

	bookSvc := books.NewService(st.books, st.loans, books.WithLogger(logger))
	loanSvc := loans.NewService(st.loans, bookSvc, st.tx,
		loans.WithPolicy(policy),
		loans.WithLogger(logger),
	)
	fineSvc, err := fines.NewService(st.fines, st.loans,
		fines.WithPolicy(policy),
		fines.WithLogger(logger),
		fines.WithMeter(meterProvider.Meter(fines.MeterName)),
	)
	if err != nil {
		logger.Error("fine service init failed", "error", err)
		os.Exit(1)
	}

	if cfg.Scheduler.Enabled {
		sched := fines.NewScheduler(fineSvc, cfg.Scheduler.FineInterval, cfg.Scheduler.RunOnStart, logger)
		go sched.Run(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(httpx.RequestID(), gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", httpx.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", "Location", httpx.HeaderRequestID},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1
	api := r.Group("/api/v1", auth.RequireAuth([]byte(cfg.Auth.JWTSecret)))
	books.RegisterRoutes(api, bookSvc)
	loans.RegisterRoutes(api, loanSvc)
	fines.RegisterRoutes(api, fineSvc)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
			// TLS: config/tls/<mode>/ 以下の証明書
			certFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
			keyFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
			logger.Info("listening", "addr", srv.Addr, "tls", true)
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
			return
		}
		logger.Info("listening", "addr", srv.Addr, "tls", false)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	// 残りのメトリクスを送ってから閉じる
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("meter provider shutdown failed", "error", err)
	}
}

func newLogger(mode string) *slog.Logger {
	if mode == "release" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func openStorage(ctx context.Context, cfg *db.Config, logger *slog.Logger) (*storage, error) {
	if cfg.DB.Driver == db.DriverMemory {
		ms, err := memstore.New(memstore.WithSnapshot(cfg.DB.SnapshotPath), memstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Info("using in-memory storage", "snapshot", cfg.DB.SnapshotPath)
		return &storage{
			books: ms.Books(),
			loans: ms.Loans(),
			fines: ms.Fines(),
			tx:    ms,
			close: func() error { return nil },
		}, nil
	}

	conn, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	ss, err := sqlstore.New(conn, cfg.DB.Dialect(), sqlstore.WithLogger(logger))
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.DB.InitSchema {
		if err := ss.InitSchema(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	logger.Info("connected to DB", "driver", cfg.DB.Driver, "dbname", cfg.DB.DBName)
	return &storage{
		books: ss.Books(),
		loans: ss.Loans(),
		fines: ss.Fines(),
		tx:    ss,
		close: conn.Close,
	}, nil
}
