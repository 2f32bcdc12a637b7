package localstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/wartungswerk/fieldsync/internal/database"
	"github.com/wartungswerk/fieldsync/internal/record"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T, clock func() time.Time) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	store, err := NewStore(StoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustAssetID(t *testing.T, value string) record.AssetID {
	t.Helper()
	id, err := record.NewAssetID(value)
	if err != nil {
		t.Fatalf("unexpected asset id error: %v", err)
	}
	return id
}

func mustAssignmentID(t *testing.T, value string) record.AssignmentID {
	t.Helper()
	id, err := record.NewAssignmentID(value)
	if err != nil {
		t.Fatalf("unexpected assignment id error: %v", err)
	}
	return id
}

func seedAssignment(t *testing.T, store *Store, assignmentID string, links ...record.AssetLink) {
	t.Helper()
	assignment := record.Assignment{
		ID:         assignmentID,
		Title:      "Quarterly inspection",
		Status:     record.AssignmentStatusPrepared,
		AssetLinks: links,
	}
	if err := store.CacheAssignment(context.Background(), assignment); err != nil {
		t.Fatalf("unexpected cache error: %v", err)
	}
}

func testLink(linkID, assignmentID, assetID string) record.AssetLink {
	return record.AssetLink{
		ID:           linkID,
		AssignmentID: assignmentID,
		AssetID:      assetID,
		Visible:      true,
		Name:         "air handler",
	}
}
