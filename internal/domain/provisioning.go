package domain

import (
	"path/filepath"
	"time"
)

// 既定のワークスペースディレクトリ名と鍵ファイル名。
const (
	WorkspaceEncryptedFiles = "client_encrypted_files"
	WorkspaceDecryptedFiles = "client_decrypted_files"
	WorkspaceMessageDigests = "client_message_digests"
	WorkspaceSignedFiles    = "client_signed_files"
	WorkspaceKeys           = "keys"

	SymmetricKeyFileName = "tajni_kljuc.txt"
	PrivateKeyFileName   = "privatni_kljuc.txt"
	PublicKeyFileName    = "javni_kljuc.txt"
)

// ProvisioningConfig はワークスペースの配置と鍵生成パラメータを表す。
type ProvisioningConfig struct {
	Root                 string
	Workspaces           []string // Root からの相対パス
	KeysDir              string   // Root からの相対パス
	SymmetricKeyFileName string
	PrivateKeyFileName   string
	PublicKeyFileName    string
	RSABits              int
}

// DefaultProvisioningConfig は既定のレイアウトでProvisioningConfigを返す。
func DefaultProvisioningConfig(root string) ProvisioningConfig {
	return ProvisioningConfig{
		Root: root,
		Workspaces: []string{
			WorkspaceEncryptedFiles,
			WorkspaceDecryptedFiles,
			WorkspaceMessageDigests,
			WorkspaceSignedFiles,
			WorkspaceKeys,
		},
		KeysDir:              WorkspaceKeys,
		SymmetricKeyFileName: SymmetricKeyFileName,
		PrivateKeyFileName:   PrivateKeyFileName,
		PublicKeyFileName:    PublicKeyFileName,
		RSABits:              DefaultRSAKeyBits,
	}
}

// WorkspacePaths はリセット対象ディレクトリの絶対（またはRoot起点の）パスを返す。
func (c ProvisioningConfig) WorkspacePaths() []string {
	paths := make([]string, len(c.Workspaces))
	for i, w := range c.Workspaces {
		paths[i] = filepath.Join(c.Root, w)
	}
	return paths
}

func (c ProvisioningConfig) SymmetricKeyPath() string {
	return filepath.Join(c.Root, c.KeysDir, c.SymmetricKeyFileName)
}

func (c ProvisioningConfig) PrivateKeyPath() string {
	return filepath.Join(c.Root, c.KeysDir, c.PrivateKeyFileName)
}

func (c ProvisioningConfig) PublicKeyPath() string {
	return filepath.Join(c.Root, c.KeysDir, c.PublicKeyFileName)
}

// KeyPairSpec はRSA鍵ペアの生成パラメータを返す。
func (c ProvisioningConfig) KeyPairSpec() KeyPairSpec {
	return KeyPairSpec{Algorithm: KeyAlgorithmRSA, Bits: c.RSABits}
}

// PathFor は公開可能な鍵名に対応するファイルパスを返す。
func (c ProvisioningConfig) PathFor(name KeyName) (string, error) {
	switch name {
	case KeyNameSymmetric:
		return c.SymmetricKeyPath(), nil
	case KeyNamePublic:
		return c.PublicKeyPath(), nil
	default:
		return "", ErrUnknownKeyName
	}
}

// RunStatus はプロビジョニング実行の結果を表す。
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ProvisioningRun は1回のプロビジョニング実行の結果。メモリ上にのみ存在する。
type ProvisioningRun struct {
	ID                      string
	WorkspaceRoot           string
	RSABits                 int
	Status                  RunStatus
	FailureKind             string
	FailureMessage          string
	SymmetricKeyFingerprint string
	PublicKeyFingerprint    string
	StartedAt               time.Time
	FinishedAt              time.Time
}

// ProvisioningRecord は台帳に保存されるプロビジョニング実行の要約。
type ProvisioningRecord struct {
	ProvisioningRun
	EscrowedSymmetricKey []byte // KMSで暗号化された対称鍵（エスクロー無効時はnil）
}
