package repository

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrationRepository_EnsureTableAndLookup(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	repo := NewMigrationRepository(db)

	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	// 2回目も成功する
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable second call failed: %v", err)
	}

	applied, err := repo.IsMigrationApplied(ctx, "001")
	if err != nil {
		t.Fatalf("IsMigrationApplied failed: %v", err)
	}
	if applied {
		t.Error("expected 001 to be pending")
	}

	if err := db.Create(&SchemaMigrationModel{Version: "001", AppliedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	applied, err = repo.IsMigrationApplied(ctx, "001")
	if err != nil {
		t.Fatalf("IsMigrationApplied failed: %v", err)
	}
	if !applied {
		t.Error("expected 001 to be applied")
	}

	all, err := repo.FindAllApplied(ctx)
	if err != nil {
		t.Fatalf("FindAllApplied failed: %v", err)
	}
	if len(all) != 1 || all[0].Version != "001" || all[0].AppliedAt == nil {
		t.Errorf("unexpected applied migrations: %+v", all)
	}
}
