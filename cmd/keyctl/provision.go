package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"key-provisioning-service/config"
	"key-provisioning-service/internal/domain"
	"key-provisioning-service/internal/infra"
	"key-provisioning-service/internal/repository"
	"key-provisioning-service/internal/usecase"
	"key-provisioning-service/migrations"
	"key-provisioning-service/pkg/keyformat"
)

// provisionCmd はワークスペースのリセットと鍵生成をローカルで実行するコマンド。
func provisionCmd() *cobra.Command {
	var root string
	var bits int
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Reset the workspaces and generate fresh keys locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if cmd.Flags().Changed("root") {
				cfg.WorkspaceRoot = root
			}
			if cmd.Flags().Changed("bits") {
				cfg.RSAKeyBits = bits
			}

			// ログは標準エラーへ
			slog.SetDefault(infra.NewLogger(os.Stderr, cfg))

			var opts []usecase.Option
			if cfg.DatabaseURL != "" {
				db, err := openLedgerDB(ctx, cfg)
				if err != nil {
					return err
				}
				defer closeDB(db)
				opts = append(opts, usecase.WithRunRecorder(repository.NewRunRepository(db)))
			}
			if cfg.KMSKeyName != "" {
				escrow, err := newEscrowClient(ctx, cfg.KMSKeyName)
				if err != nil {
					return fmt.Errorf("failed to init KMS client: %w", err)
				}
				defer closeEscrow(escrow)
				opts = append(opts, usecase.WithKeyEscrow(escrow))
			}

			store := repository.NewKeyFileRepository()
			service := usecase.NewProvisioningService(cfg.Provisioning(), store, usecase.NewKeyGenerator(store, nil), opts...)

			run, err := service.Provision(ctx)
			if err != nil {
				return fmt.Errorf("provisioning failed (%s): %w", domain.ErrorKind(err), err)
			}

			pc := service.Config()
			out := cmd.OutOrStdout()
			if output == "json" {
				return writeJSON(out, map[string]any{
					"id":                        run.ID,
					"status":                    run.Status,
					"workspace_root":            run.WorkspaceRoot,
					"rsa_bits":                  run.RSABits,
					"symmetric_key_fingerprint": run.SymmetricKeyFingerprint,
					"public_key_fingerprint":    run.PublicKeyFingerprint,
				})
			}
			fmt.Fprintf(out, "Provisioned workspace %q (run: %s)\n", run.WorkspaceRoot, run.ID)
			fmt.Fprintf(out, "  symmetric key: %s\n", pc.SymmetricKeyPath())
			fmt.Fprintf(out, "  private key:   %s\n", pc.PrivateKeyPath())
			fmt.Fprintf(out, "  public key:    %s (sha256 %s)\n", pc.PublicKeyPath(), run.PublicKeyFingerprint)

			publicKey, err := service.GetNamedKey(ctx, domain.KeyNamePublic)
			if err != nil {
				return err
			}
			sshFingerprint, err := keyformat.SSHFingerprint(publicKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  ssh:           %s\n", sshFingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "Workspace root directory (or set WORKSPACE_ROOT)")
	cmd.Flags().IntVar(&bits, "bits", domain.DefaultRSAKeyBits, "RSA modulus size (or set RSA_KEY_BITS)")
	return cmd
}

// openLedgerDB は台帳DBに接続し、未適用のマイグレーションを適用する。
func openLedgerDB(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	service := usecase.NewMigrationService(repository.NewMigrationRepository(db), db, migrations.Source(cfg.MigrationsDir))
	if _, err := service.ApplyMigrations(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// closeDB はコマンド終了時に接続を解放する。
func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}
