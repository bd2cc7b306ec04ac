// Package main はAPIサーバーのエントリポイント。
// 起動時にワークスペースと鍵を初期化し、その後鍵表示APIを提供する。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"key-provisioning-service/config"
	"key-provisioning-service/internal/domain"
	"key-provisioning-service/internal/handler"
	"key-provisioning-service/internal/infra"
	"key-provisioning-service/internal/middleware"
	"key-provisioning-service/internal/repository"
	"key-provisioning-service/internal/usecase"
	"key-provisioning-service/migrations"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	var opts []usecase.Option

	// 台帳（任意）
	if cfg.DatabaseURL != "" {
		db, err := infra.NewDB(cfg.DatabaseURL, cfg)
		if err != nil {
			slog.Error("failed to init database", "error", err)
			os.Exit(1)
		}
		migrationService := usecase.NewMigrationService(repository.NewMigrationRepository(db), db, migrations.Source(cfg.MigrationsDir))
		applied, err := migrationService.ApplyMigrations(ctx)
		if err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("ledger ready", "migrations_applied", applied)
		opts = append(opts, usecase.WithRunRecorder(repository.NewRunRepository(db)))
	} else {
		slog.Info("DATABASE_URL is not set, provisioning ledger disabled")
	}

	// KMSエスクロー（任意）
	if cfg.KMSKeyName != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			slog.Error("failed to init KMS client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}()
		opts = append(opts, usecase.WithKeyEscrow(kmsClient))
	}

	// DI
	store := repository.NewKeyFileRepository()
	generator := usecase.NewKeyGenerator(store, nil)
	service := usecase.NewProvisioningService(cfg.Provisioning(), store, generator, opts...)

	// プロビジョニング（失敗時はAPIを起動しない）
	run, err := service.Provision(ctx)
	if err != nil {
		middleware.WriteAuditLog(ctx, "PROVISION", cfg.WorkspaceRoot, middleware.ResultFailed)
		slog.Error("provisioning failed, exiting",
			"kind", domain.ErrorKind(err),
			"error", err,
		)
		os.Exit(1)
	}
	middleware.WriteAuditLog(ctx, "PROVISION", cfg.WorkspaceRoot, middleware.ResultSuccess)
	slog.Info("workspace provisioned", "run_id", run.ID, "root", run.WorkspaceRoot)

	h := handler.NewKeyHandler(service)
	router := handler.NewRouter(h, cfg)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
