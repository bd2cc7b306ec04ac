package domain

import "errors"

var (
	// ErrDirectoryCreationFailed はワークスペースディレクトリを作成できない場合のエラー。
	ErrDirectoryCreationFailed = errors.New("directory creation failed")

	// ErrDirectoryCleanupFailed はワークスペース内のファイルを削除できない場合のエラー。
	ErrDirectoryCleanupFailed = errors.New("directory cleanup failed")

	// ErrRandomSourceUnavailable は安全な乱数を取得できない場合のエラー。
	ErrRandomSourceUnavailable = errors.New("random source unavailable")

	// ErrKeyWriteFailed は対称鍵ファイルの書き込みに失敗した場合のエラー。
	ErrKeyWriteFailed = errors.New("key write failed")

	// ErrKeyPairGenerationFailed は鍵ペアを生成できない場合のエラー。
	ErrKeyPairGenerationFailed = errors.New("key pair generation failed")

	// ErrPublicKeyDerivationFailed は秘密鍵から公開鍵を導出できない場合のエラー。
	ErrPublicKeyDerivationFailed = errors.New("public key derivation failed")

	// ErrPrivateKeyWriteFailed は秘密鍵ファイルの書き込みに失敗した場合のエラー。
	ErrPrivateKeyWriteFailed = errors.New("private key write failed")

	// ErrPublicKeyWriteFailed は公開鍵ファイルの書き込みに失敗した場合のエラー。
	ErrPublicKeyWriteFailed = errors.New("public key write failed")

	// ErrKeyFileMissingOrEmpty は鍵ファイルが存在しない・読めない・空の場合のエラー。
	ErrKeyFileMissingOrEmpty = errors.New("key file missing or empty")

	// ErrUnknownKeyName は公開対象外の鍵名が指定された場合のエラー。
	ErrUnknownKeyName = errors.New("unknown key name")

	// ErrLedgerDisabled はプロビジョニング台帳が設定されていない場合のエラー。
	ErrLedgerDisabled = errors.New("provisioning ledger is disabled")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// KeyError はプロビジョニング中の失敗を種別・対象パス・原因とともに表す。
// errors.Is は種別（Kind）と原因（Err）の両方に一致する。
type KeyError struct {
	Kind error
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は種別と原因を返す。
func (e *KeyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKeyError はKeyErrorを生成する。
func NewKeyError(kind error, path string, err error) *KeyError {
	return &KeyError{Kind: kind, Path: path, Err: err}
}

// ErrorKind はerrに含まれるプロビジョニング失敗の種別名を返す。該当しない場合は空文字。
func ErrorKind(err error) string {
	var ke *KeyError
	if errors.As(err, &ke) {
		return ke.Kind.Error()
	}
	return ""
}
