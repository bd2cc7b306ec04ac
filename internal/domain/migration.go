package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration は台帳スキーマのマイグレーションを表すドメインモデル
type Migration struct {
	Version   string     // 例: "001"
	Name      string     // ファイル名から抽出
	AppliedAt *time.Time // 未適用の場合はnil
	FileName  string     // マイグレーションFS内のファイル名
	Status    MigrationStatus
}
