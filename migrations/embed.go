// Package migrations はプロビジョニング台帳のSQLマイグレーションを埋め込む。
package migrations

import (
	"embed"
	"io/fs"
	"os"
)

// FS は {version}_{name}.sql 形式のマイグレーションファイル。
//
//go:embed *.sql
var FS embed.FS

// Source はdirが指定されていればそのディレクトリを、なければ埋め込みファイルを返す。
func Source(dir string) fs.FS {
	if dir == "" {
		return FS
	}
	return os.DirFS(dir)
}
