package repository

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"key-provisioning-service/internal/domain"
)

func TestKeyFileRepository_ResetWorkspaces_CreatesMissing(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()

	paths := []string{
		filepath.Join(root, "client_signed_files"),
		filepath.Join(root, "nested", "keys"),
	}
	if err := repo.ResetWorkspaces(ctx, paths); err != nil {
		t.Fatalf("ResetWorkspaces failed: %v", err)
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", p)
		}
	}
}

func TestKeyFileRepository_ResetWorkspaces_CleanupScope(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()

	dir := filepath.Join(root, "client_signed_files")
	subdir := filepath.Join(dir, "archive")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}
	files := []string{
		filepath.Join(dir, "signed.bin"),
		filepath.Join(dir, ".hidden"),
	}
	for _, f := range files {
		if err := os.WriteFile(f, []byte("data"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", f, err)
		}
	}
	nested := filepath.Join(subdir, "kept.txt")
	if err := os.WriteFile(nested, []byte("data"), 0o644); err != nil {
		t.Fatalf("failed to write nested file: %v", err)
	}

	if err := repo.ResetWorkspaces(ctx, []string{dir}); err != nil {
		t.Fatalf("ResetWorkspaces failed: %v", err)
	}

	for _, f := range files {
		if _, err := os.Stat(f); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected %s to be removed, stat err=%v", f, err)
		}
	}
	if _, err := os.Stat(subdir); err != nil {
		t.Errorf("expected subdirectory to be kept: %v", err)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("expected file inside subdirectory to be kept: %v", err)
	}
}

func TestKeyFileRepository_ResetWorkspaces_SymlinkToFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()

	dir := filepath.Join(root, "client_decrypted_files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	target := filepath.Join(root, "outside.txt")
	if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
		t.Fatalf("failed to write target: %v", err)
	}
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	dangling := filepath.Join(dir, "dangling.txt")
	if err := os.Symlink(filepath.Join(root, "missing"), dangling); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := repo.ResetWorkspaces(ctx, []string{dir}); err != nil {
		t.Fatalf("ResetWorkspaces failed: %v", err)
	}

	if _, err := os.Lstat(link); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected link to be removed, err=%v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("expected link target to be kept: %v", err)
	}
	if _, err := os.Lstat(dangling); err != nil {
		t.Errorf("expected dangling link to be kept: %v", err)
	}
}

func TestKeyFileRepository_ResetWorkspaces_Idempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()
	paths := domain.DefaultProvisioningConfig(root).WorkspacePaths()

	for i := 0; i < 2; i++ {
		if err := repo.ResetWorkspaces(ctx, paths); err != nil {
			t.Fatalf("ResetWorkspaces run %d failed: %v", i+1, err)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("failed to read root: %v", err)
	}
	if len(entries) != len(paths) {
		t.Errorf("expected %d entries, got %d", len(paths), len(entries))
	}
	for _, p := range paths {
		inner, err := os.ReadDir(p)
		if err != nil {
			t.Fatalf("failed to read %s: %v", p, err)
		}
		if len(inner) != 0 {
			t.Errorf("expected %s to be empty, got %d entries", p, len(inner))
		}
	}
}

func TestKeyFileRepository_ResetWorkspaces_PathIsFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()

	path := filepath.Join(root, "keys")
	if err := os.WriteFile(path, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	err := repo.ResetWorkspaces(ctx, []string{path})
	if !errors.Is(err, domain.ErrDirectoryCreationFailed) {
		t.Fatalf("want ErrDirectoryCreationFailed, got %v", err)
	}
	var ke *domain.KeyError
	if !errors.As(err, &ke) || ke.Path != path {
		t.Errorf("want KeyError with path %s, got %v", path, err)
	}
}

func TestKeyFileRepository_WriteFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewKeyFileRepository()
	path := filepath.Join(dir, "tajni_kljuc.txt")

	if err := repo.WriteFile(ctx, path, []byte("first"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := repo.WriteFile(ctx, path, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFile overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("want content second, got %q", string(data))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the key file, got %d entries", len(entries))
	}
}

func TestKeyFileRepository_WriteFile_EmptyIsShortWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewKeyFileRepository()
	path := filepath.Join(dir, "javni_kljuc.txt")

	err := repo.WriteFile(ctx, path, nil, 0o644)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("want io.ErrShortWrite, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected no file to be created, err=%v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected temp file to be cleaned up, got %d entries", len(entries))
	}
}

func TestKeyFileRepository_WriteFile_MissingDirectory(t *testing.T) {
	ctx := context.Background()
	repo := NewKeyFileRepository()
	path := filepath.Join(t.TempDir(), "missing", "key.txt")

	if err := repo.WriteFile(ctx, path, []byte("data"), 0o600); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestKeyFileRepository_ReadKeyFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewKeyFileRepository()

	// 存在しない場合
	missing := filepath.Join(dir, "missing.txt")
	_, err := repo.ReadKeyFile(ctx, missing)
	if !errors.Is(err, domain.ErrKeyFileMissingOrEmpty) {
		t.Errorf("want ErrKeyFileMissingOrEmpty, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("want fs.ErrNotExist as cause, got %v", err)
	}

	// 空の場合
	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	content, err := repo.ReadKeyFile(ctx, empty)
	if !errors.Is(err, domain.ErrKeyFileMissingOrEmpty) {
		t.Errorf("want ErrKeyFileMissingOrEmpty, got %v", err)
	}
	if content != "" {
		t.Errorf("want empty content on error, got %q", content)
	}

	// 正常系
	present := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(present, []byte("abc"), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	content, err = repo.ReadKeyFile(ctx, present)
	if err != nil {
		t.Fatalf("ReadKeyFile failed: %v", err)
	}
	if content != "abc" {
		t.Errorf("want abc, got %q", content)
	}
}

func TestKeyFileRepository_Remove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewKeyFileRepository()
	path := filepath.Join(dir, "key.txt")

	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := repo.Remove(ctx, path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	// 2回目は存在しないが成功する
	if err := repo.Remove(ctx, path); err != nil {
		t.Fatalf("Remove of missing file failed: %v", err)
	}
}

func TestKeyFileRepository_ResetWorkspaces_CleanupFailed(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()
	repo.remove = func(string) error { return fs.ErrPermission }

	dir := filepath.Join(root, "client_signed_files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	stale := filepath.Join(dir, "old.sig")
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatalf("failed to write stale file: %v", err)
	}

	err := repo.ResetWorkspaces(ctx, []string{dir})
	if !errors.Is(err, domain.ErrDirectoryCleanupFailed) {
		t.Fatalf("want ErrDirectoryCleanupFailed, got %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected cause to be kept, got %v", err)
	}
	if domain.ErrorKind(err) != domain.ErrDirectoryCleanupFailed.Error() {
		t.Errorf("unexpected kind %q", domain.ErrorKind(err))
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("expected stale file to remain after failed cleanup: %v", err)
	}
}

func TestKeyFileRepository_ResetWorkspaces_SymlinkLoopIsKept(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewKeyFileRepository()

	dir := filepath.Join(root, "client_signed_files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	loop := filepath.Join(dir, "loop")
	if err := os.Symlink("loop", loop); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	file := filepath.Join(dir, "old.sig")
	if err := os.WriteFile(file, []byte("stale"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := repo.ResetWorkspaces(ctx, []string{dir}); err != nil {
		t.Fatalf("ResetWorkspaces failed: %v", err)
	}

	if _, err := os.Lstat(loop); err != nil {
		t.Errorf("expected self-referencing link to be kept: %v", err)
	}
	if _, err := os.Stat(file); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected regular file to be removed, err=%v", err)
	}
}
