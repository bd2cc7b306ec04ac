package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"key-provisioning-service/config"
	"key-provisioning-service/internal/infra"
	"key-provisioning-service/internal/repository"
)

// escrowClient は対称鍵のエスクローと復元に使うKMSクライアント。
type escrowClient interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}

// newEscrowClient はKMS_KEY_NAMEのCryptoKeyを使うクライアントを生成する。テストで差し替える。
var newEscrowClient = func(ctx context.Context, keyName string) (escrowClient, error) {
	client, err := infra.NewKMSClient(ctx, keyName)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func closeEscrow(c escrowClient) {
	if err := c.Close(); err != nil {
		slog.Error("failed to close KMS client", "error", err)
	}
}

// escrowCmd はKMSでエスクローされた鍵を扱うコマンド。
func escrowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Work with symmetric keys escrowed in Cloud KMS",
	}
	cmd.AddCommand(escrowRecoverCmd())
	return cmd
}

// escrowRecoverCmd は最新の実行でエスクローされた対称鍵を復号して表示する。
func escrowRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Decrypt the symmetric key escrowed by the latest provisioning run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL environment variable is required")
			}
			if cfg.KMSKeyName == "" {
				return fmt.Errorf("KMS_KEY_NAME environment variable is required")
			}

			db, err := infra.NewDB(cfg.DatabaseURL, cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer closeDB(db)
			rec, err := repository.NewRunRepository(db).FindLatest(ctx)
			if err != nil {
				return fmt.Errorf("failed to read ledger: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("no provisioning runs recorded")
			}
			if len(rec.EscrowedSymmetricKey) == 0 {
				return fmt.Errorf("run %s has no escrowed key (status: %s)", rec.ID, rec.Status)
			}

			escrow, err := newEscrowClient(ctx, cfg.KMSKeyName)
			if err != nil {
				return fmt.Errorf("failed to init KMS client: %w", err)
			}
			defer closeEscrow(escrow)

			plaintext, err := escrow.Decrypt(ctx, rec.EscrowedSymmetricKey)
			if err != nil {
				return fmt.Errorf("failed to decrypt escrowed key: %w", err)
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				return writeJSON(out, map[string]string{
					"run_id": rec.ID,
					"key":    hex.EncodeToString(plaintext),
				})
			}
			fmt.Fprintln(out, hex.EncodeToString(plaintext))
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
