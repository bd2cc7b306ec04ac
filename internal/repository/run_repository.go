package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"key-provisioning-service/internal/domain"
)

// ProvisioningRunModel はgorm用のモデル定義。
type ProvisioningRunModel struct {
	ID                      string    `gorm:"type:char(36);primaryKey"`
	WorkspaceRoot           string    `gorm:"type:varchar(1024);not null"`
	RSABits                 int       `gorm:"column:rsa_bits;not null"`
	Status                  string    `gorm:"type:varchar(16);not null"`
	FailureKind             string    `gorm:"type:varchar(64);not null;default:''"`
	FailureMessage          string    `gorm:"type:text"`
	SymmetricKeyFingerprint string    `gorm:"type:char(64);not null;default:''"`
	PublicKeyFingerprint    string    `gorm:"type:char(64);not null;default:''"`
	EscrowedSymmetricKey    []byte    `gorm:"type:blob"`
	StartedAt               time.Time `gorm:"type:datetime;not null;index:idx_provisioning_runs_started_at"`
	FinishedAt              time.Time `gorm:"type:datetime;not null"`
}

// TableName はテーブル名を返す。
func (ProvisioningRunModel) TableName() string {
	return "provisioning_runs"
}

// BeforeCreate はIDが未設定の場合にUUIDを生成する。
func (m *ProvisioningRunModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *ProvisioningRunModel) toDomain() *domain.ProvisioningRecord {
	return &domain.ProvisioningRecord{
		ProvisioningRun: domain.ProvisioningRun{
			ID:                      m.ID,
			WorkspaceRoot:           m.WorkspaceRoot,
			RSABits:                 m.RSABits,
			Status:                  domain.RunStatus(m.Status),
			FailureKind:             m.FailureKind,
			FailureMessage:          m.FailureMessage,
			SymmetricKeyFingerprint: m.SymmetricKeyFingerprint,
			PublicKeyFingerprint:    m.PublicKeyFingerprint,
			StartedAt:               m.StartedAt,
			FinishedAt:              m.FinishedAt,
		},
		EscrowedSymmetricKey: m.EscrowedSymmetricKey,
	}
}

// RunRepository はプロビジョニング台帳へのアクセスを提供する。
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository は新しいRunRepositoryを生成する。
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create は実行記録を保存する。
func (r *RunRepository) Create(ctx context.Context, rec *domain.ProvisioningRecord) error {
	model := &ProvisioningRunModel{
		ID:                      rec.ID,
		WorkspaceRoot:           rec.WorkspaceRoot,
		RSABits:                 rec.RSABits,
		Status:                  string(rec.Status),
		FailureKind:             rec.FailureKind,
		FailureMessage:          rec.FailureMessage,
		SymmetricKeyFingerprint: rec.SymmetricKeyFingerprint,
		PublicKeyFingerprint:    rec.PublicKeyFingerprint,
		EscrowedSymmetricKey:    rec.EscrowedSymmetricKey,
		StartedAt:               rec.StartedAt,
		FinishedAt:              rec.FinishedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create provisioning run",
			"operation", "create",
			"run_id", rec.ID,
			"error", err,
		)
		return err
	}
	rec.ID = model.ID
	return nil
}

// FindRecent は新しい順に最大limit件の実行記録を取得する。
func (r *RunRepository) FindRecent(ctx context.Context, limit int) ([]*domain.ProvisioningRecord, error) {
	var models []ProvisioningRunModel
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find recent provisioning runs",
			"operation", "find_recent",
			"limit", limit,
			"error", err,
		)
		return nil, err
	}

	records := make([]*domain.ProvisioningRecord, len(models))
	for i, m := range models {
		records[i] = m.toDomain()
	}
	return records, nil
}

// FindLatest は最新の実行記録を取得する。記録がない場合はnilを返す。
func (r *RunRepository) FindLatest(ctx context.Context) (*domain.ProvisioningRecord, error) {
	var model ProvisioningRunModel
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find latest provisioning run",
			"operation", "find_latest",
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}
