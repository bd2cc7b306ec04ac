package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"key-provisioning-service/internal/domain"
)

const tracerName = "key-provisioning-service/internal/usecase"

// RunRecorder はプロビジョニング台帳のインターフェース。
type RunRecorder interface {
	Create(ctx context.Context, rec *domain.ProvisioningRecord) error
	FindRecent(ctx context.Context, limit int) ([]*domain.ProvisioningRecord, error)
}

// KeyEscrow は対称鍵をエスクロー用に暗号化するインターフェース。
type KeyEscrow interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
}

// Option はProvisioningServiceの任意設定。
type Option func(*ProvisioningService)

// WithRunRecorder は実行結果を台帳に記録する。
func WithRunRecorder(r RunRecorder) Option {
	return func(s *ProvisioningService) {
		s.recorder = r
	}
}

// WithKeyEscrow は成功時の対称鍵をエスクローする。
func WithKeyEscrow(e KeyEscrow) Option {
	return func(s *ProvisioningService) {
		s.escrow = e
	}
}

// WithClock は時刻取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *ProvisioningService) {
		s.now = now
	}
}

// ProvisioningService はワークスペースの初期化と鍵の生成・読み出しを統括する。
// 生成はI/Oを伴わない。Provisionをプロセス起動時に一度呼び出す。
type ProvisioningService struct {
	cfg       domain.ProvisioningConfig
	store     KeyFileStore
	generator *KeyGenerator
	recorder  RunRecorder
	escrow    KeyEscrow
	now       func() time.Time
}

// NewProvisioningService は新しいProvisioningServiceを生成する。
func NewProvisioningService(cfg domain.ProvisioningConfig, store KeyFileStore, generator *KeyGenerator, opts ...Option) *ProvisioningService {
	s := &ProvisioningService{
		cfg:       cfg,
		store:     store,
		generator: generator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config はワークスペースの配置設定を返す。
func (s *ProvisioningService) Config() domain.ProvisioningConfig {
	return s.cfg
}

// Provision はワークスペースのリセット、対称鍵の生成、鍵ペアの生成を順に実行する。
// 最初の失敗で中断し、その失敗の種別を保ったエラーをそのまま返す。
// リセット後に生成が失敗した場合、この実行で書き込んだ鍵ファイルは削除され、
// keys ディレクトリには鍵ファイルが残らない。
func (s *ProvisioningService) Provision(ctx context.Context) (*domain.ProvisioningRun, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Provision")
	defer span.End()

	run := &domain.ProvisioningRun{
		ID:            uuid.New().String(),
		WorkspaceRoot: s.cfg.Root,
		RSABits:       s.cfg.RSABits,
		StartedAt:     s.now().UTC(),
	}
	span.SetAttributes(
		attribute.String("provisioning.run_id", run.ID),
		attribute.Int("provisioning.rsa_bits", run.RSABits),
	)

	key, pair, err := s.provision(ctx)
	run.FinishedAt = s.now().UTC()
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.FailureKind = domain.ErrorKind(err)
		run.FailureMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, run.FailureKind)
		slog.ErrorContext(ctx, "provisioning failed",
			"operation", "provision",
			"run_id", run.ID,
			"kind", run.FailureKind,
			"error", err,
		)
		s.record(ctx, run, nil)
		return run, err
	}

	run.Status = domain.RunStatusSucceeded
	run.SymmetricKeyFingerprint = key.Fingerprint()
	run.PublicKeyFingerprint = pair.PublicKeyFingerprint
	slog.InfoContext(ctx, "provisioning completed",
		"operation", "provision",
		"run_id", run.ID,
		"workspace_root", run.WorkspaceRoot,
		"rsa_bits", run.RSABits,
		"public_key_fingerprint", run.PublicKeyFingerprint,
	)
	s.record(ctx, run, &key)
	return run, nil
}

func (s *ProvisioningService) provision(ctx context.Context) (domain.SymmetricKey, *domain.KeyPair, error) {
	tracer := otel.Tracer(tracerName)

	stepCtx, span := tracer.Start(ctx, "ResetWorkspaces")
	err := s.store.ResetWorkspaces(stepCtx, s.cfg.WorkspacePaths())
	endSpan(span, err)
	if err != nil {
		return domain.SymmetricKey{}, nil, err
	}

	stepCtx, span = tracer.Start(ctx, "GenerateSymmetricKey")
	key, err := s.generator.GenerateSymmetricKey(stepCtx, s.cfg.SymmetricKeyPath())
	endSpan(span, err)
	if err != nil {
		return domain.SymmetricKey{}, nil, err
	}

	stepCtx, span = tracer.Start(ctx, "GenerateKeyPair")
	pair, err := s.generator.GenerateKeyPair(stepCtx, s.cfg.KeyPairSpec(), s.cfg.PrivateKeyPath(), s.cfg.PublicKeyPath())
	endSpan(span, err)
	if err != nil {
		s.discardKeyFiles(ctx)
		return domain.SymmetricKey{}, nil, err
	}

	return key, pair, nil
}

// discardKeyFiles は失敗した実行で書き込まれた鍵ファイルを削除する。
func (s *ProvisioningService) discardKeyFiles(ctx context.Context) {
	for _, path := range []string{s.cfg.SymmetricKeyPath(), s.cfg.PrivateKeyPath(), s.cfg.PublicKeyPath()} {
		if err := s.store.Remove(ctx, path); err != nil {
			slog.ErrorContext(ctx, "failed to discard key file",
				"operation", "provision",
				"path", path,
				"error", err,
			)
		}
	}
}

// record は台帳が設定されていれば実行結果を保存する。台帳の失敗は実行結果に影響しない。
func (s *ProvisioningService) record(ctx context.Context, run *domain.ProvisioningRun, key *domain.SymmetricKey) {
	if s.recorder == nil {
		return
	}

	rec := &domain.ProvisioningRecord{ProvisioningRun: *run}
	if key != nil && s.escrow != nil {
		wrapped, err := s.escrow.Encrypt(ctx, key[:])
		if err != nil {
			slog.WarnContext(ctx, "failed to escrow symmetric key",
				"operation", "provision",
				"run_id", run.ID,
				"error", err,
			)
		} else {
			rec.EscrowedSymmetricKey = wrapped
		}
	}

	if err := s.recorder.Create(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "failed to record provisioning run",
			"operation", "provision",
			"run_id", run.ID,
			"error", err,
		)
	}
}

// GetKey はpathの鍵ファイルを読み出す。毎回ストレージから読み直す。
func (s *ProvisioningService) GetKey(ctx context.Context, path string) (string, error) {
	return s.store.ReadKeyFile(ctx, path)
}

// GetNamedKey は公開可能な鍵（対称鍵・公開鍵）を名前で読み出す。秘密鍵は読み出せない。
func (s *ProvisioningService) GetNamedKey(ctx context.Context, name domain.KeyName) (string, error) {
	path, err := s.cfg.PathFor(name)
	if err != nil {
		return "", err
	}
	return s.GetKey(ctx, path)
}

// ListRuns は台帳から新しい順に実行記録を取得する。
func (s *ProvisioningService) ListRuns(ctx context.Context, limit int) ([]*domain.ProvisioningRecord, error) {
	if s.recorder == nil {
		return nil, domain.ErrLedgerDisabled
	}
	return s.recorder.FindRecent(ctx, limit)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorKind(err))
	}
	span.End()
}
