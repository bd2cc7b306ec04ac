// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"key-provisioning-service/internal/domain"
	"key-provisioning-service/internal/middleware"
	"key-provisioning-service/pkg/httputil"
	"key-provisioning-service/pkg/keyformat"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// KeyService はハンドラが利用する鍵読み出しのインターフェース。
type KeyService interface {
	GetNamedKey(ctx context.Context, name domain.KeyName) (string, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.ProvisioningRecord, error)
}

// KeyHandler はHTTPハンドラを提供する。
type KeyHandler struct {
	service KeyService
}

// NewKeyHandler は新しいKeyHandlerを生成する。
func NewKeyHandler(service KeyService) *KeyHandler {
	return &KeyHandler{service: service}
}

// KeyResponse は鍵のレスポンス形式。
type KeyResponse struct {
	Name   string `json:"name"`
	Format string `json:"format,omitempty"`
	Key    string `json:"key"`
}

// RunResponse はプロビジョニング実行記録のレスポンス形式。
type RunResponse struct {
	ID                      string `json:"id"`
	WorkspaceRoot           string `json:"workspace_root"`
	RSABits                 int    `json:"rsa_bits"`
	Status                  string `json:"status"`
	FailureKind             string `json:"failure_kind,omitempty"`
	SymmetricKeyFingerprint string `json:"symmetric_key_fingerprint,omitempty"`
	PublicKeyFingerprint    string `json:"public_key_fingerprint,omitempty"`
	Escrowed                bool   `json:"escrowed"`
	StartedAt               string `json:"started_at"`
	FinishedAt              string `json:"finished_at"`
}

// RunListResponse は実行記録一覧のレスポンス形式。
type RunListResponse struct {
	Runs []RunResponse `json:"runs"`
}

// GetSymmetricKey は対称鍵（16進文字列）を返す。
func (h *KeyHandler) GetSymmetricKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.readKey(w, r, domain.KeyNameSymmetric, "GET_SYMMETRIC_KEY")
	if !ok {
		return
	}
	httputil.JSON(w, http.StatusOK, KeyResponse{
		Name: string(domain.KeyNameSymmetric),
		Key:  key,
	})
}

// GetPublicKey は公開鍵を返す。format=ssh の場合はauthorized_keys形式に変換する。
func (h *KeyHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	format, err := keyformat.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be pem or ssh")
		return
	}

	key, ok := h.readKey(w, r, domain.KeyNamePublic, "GET_PUBLIC_KEY")
	if !ok {
		return
	}
	if format == keyformat.FormatSSH {
		key, err = keyformat.AuthorizedKey(key, "")
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to convert public key",
				"operation", "GET_PUBLIC_KEY",
				"error", err,
			)
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			return
		}
	}

	httputil.JSON(w, http.StatusOK, KeyResponse{
		Name:   string(domain.KeyNamePublic),
		Format: string(format),
		Key:    key,
	})
}

// readKey は鍵を読み出し監査ログを出力する。失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *KeyHandler) readKey(w http.ResponseWriter, r *http.Request, name domain.KeyName, operation string) (string, bool) {
	ctx := r.Context()
	key, err := h.service.GetNamedKey(ctx, name)
	if err != nil {
		middleware.WriteAuditLog(ctx, operation, string(name), middleware.ResultFailed)
		if errors.Is(err, domain.ErrKeyFileMissingOrEmpty) {
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key has not been provisioned")
			return "", false
		}
		slog.ErrorContext(ctx, "failed to read key",
			"operation", operation,
			"error", err,
		)
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return "", false
	}

	middleware.WriteAuditLog(ctx, operation, string(name), middleware.ResultSuccess)
	return key, true
}

// ListRuns はプロビジョニング台帳の記録を新しい順に返す。
func (h *KeyHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
		return
	}

	records, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerDisabled) {
			httputil.Error(w, http.StatusNotFound, "LEDGER_DISABLED", "provisioning ledger is not configured")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	response := RunListResponse{
		Runs: make([]RunResponse, len(records)),
	}
	for i, rec := range records {
		response.Runs[i] = RunResponse{
			ID:                      rec.ID,
			WorkspaceRoot:           rec.WorkspaceRoot,
			RSABits:                 rec.RSABits,
			Status:                  string(rec.Status),
			FailureKind:             rec.FailureKind,
			SymmetricKeyFingerprint: rec.SymmetricKeyFingerprint,
			PublicKeyFingerprint:    rec.PublicKeyFingerprint,
			Escrowed:                len(rec.EscrowedSymmetricKey) > 0,
			StartedAt:               rec.StartedAt.Format(time.RFC3339),
			FinishedAt:              rec.FinishedAt.Format(time.RFC3339),
		}
	}
	httputil.JSON(w, http.StatusOK, response)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultRunLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 1 || limit > maxRunLimit {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}
