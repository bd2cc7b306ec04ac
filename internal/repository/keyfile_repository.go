// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"key-provisioning-service/internal/domain"
)

const workspaceDirPerm fs.FileMode = 0o755

var errNotDirectory = errors.New("exists and is not a directory")

// KeyFileRepository はワークスペースディレクトリと鍵ファイルをローカルファイルシステム上で扱う。
// 同じルートに対する複数プロセスからの同時実行は想定しない（ロックは取らない）。
type KeyFileRepository struct {
	remove func(name string) error
}

// NewKeyFileRepository は新しいKeyFileRepositoryを生成する。
func NewKeyFileRepository() *KeyFileRepository {
	return &KeyFileRepository{remove: os.Remove}
}

// ResetWorkspaces は各ディレクトリを作成し、既存の場合は直下の通常ファイルを削除する。
// サブディレクトリは削除しない。
func (r *KeyFileRepository) ResetWorkspaces(ctx context.Context, paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.ErrorContext(ctx, "failed to stat workspace",
					"operation", "reset_workspaces",
					"path", path,
					"error", err,
				)
				return domain.NewKeyError(domain.ErrDirectoryCreationFailed, path, err)
			}
			// MkdirAll は既にディレクトリとして存在する場合 nil を返す
			if err := os.MkdirAll(path, workspaceDirPerm); err != nil {
				slog.ErrorContext(ctx, "failed to create workspace",
					"operation", "reset_workspaces",
					"path", path,
					"error", err,
				)
				return domain.NewKeyError(domain.ErrDirectoryCreationFailed, path, err)
			}
			slog.DebugContext(ctx, "workspace created", "path", path)
			continue
		}
		if !info.IsDir() {
			return domain.NewKeyError(domain.ErrDirectoryCreationFailed, path, errNotDirectory)
		}

		removed, err := r.cleanDirectory(path)
		if err != nil {
			slog.ErrorContext(ctx, "failed to clean workspace",
				"operation", "reset_workspaces",
				"path", path,
				"error", err,
			)
			return domain.NewKeyError(domain.ErrDirectoryCleanupFailed, path, err)
		}
		slog.DebugContext(ctx, "workspace cleaned", "path", path, "removed_files", removed)
	}
	return nil
}

// cleanDirectory はdir直下の通常ファイル（通常ファイルへのシンボリックリンクを含む）を削除する。
// 解決できないシンボリックリンク（リンク切れ・循環）は通常ファイルではないので残す。
func (r *KeyFileRepository) cleanDirectory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			if entry.Type()&fs.ModeSymlink != 0 || errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := r.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// WriteFile はdataをpathへ原子的に書き込む。
// 同じディレクトリの一時ファイルに書き込んでからrenameするため、途中で失敗しても
// 切り詰められたファイルがpathに残ることはない。0バイトの書き込みは失敗として扱う。
func (r *KeyFileRepository) WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			slog.ErrorContext(ctx, "failed to write key file",
				"operation", "write_file",
				"path", path,
				"error", err,
			)
		}
	}()

	n, err := tmp.Write(data)
	if err != nil {
		return fmt.Errorf("writing: %w", err)
	}
	if n == 0 || n != len(data) {
		return fmt.Errorf("writing: %w (%d of %d bytes)", io.ErrShortWrite, n, len(data))
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}
	return nil
}

// ReadKeyFile は鍵ファイルの内容を文字列として読み込む。キャッシュはしない。
func (r *KeyFileRepository) ReadKeyFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.WarnContext(ctx, "failed to read key file",
			"operation", "read_key_file",
			"path", path,
			"error", err,
		)
		return "", domain.NewKeyError(domain.ErrKeyFileMissingOrEmpty, path, err)
	}
	if len(data) == 0 {
		slog.WarnContext(ctx, "key file is empty",
			"operation", "read_key_file",
			"path", path,
		)
		return "", domain.NewKeyError(domain.ErrKeyFileMissingOrEmpty, path, nil)
	}
	return string(data), nil
}

// Remove はファイルを削除する。存在しない場合は何もしない。
func (r *KeyFileRepository) Remove(ctx context.Context, path string) error {
	if err := r.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.ErrorContext(ctx, "failed to remove key file",
			"operation", "remove",
			"path", path,
			"error", err,
		)
		return err
	}
	return nil
}
