package localstore

import (
	"context"
	"fmt"

	"github.com/wartungswerk/fieldsync/internal/record"
	"gorm.io/gorm"
)

// Enqueue appends one operation to the mutation log. The log is append-only;
// rows are marked synced or parked, never removed outside ClearAllLocalData.
func (s *Store) Enqueue(ctx context.Context, operation record.Operation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return enqueueTx(tx, operation)
	})
}

func enqueueTx(tx *gorm.DB, operation record.Operation) error {
	item, err := record.EncodeOperation(operation)
	if err != nil {
		return err
	}
	if err := tx.Create(&item).Error; err != nil {
		return fmt.Errorf("localstore: enqueue %s: %w", operation.Kind(), err)
	}
	return nil
}

// DequeuePending returns the unsynced items still under the retry ceiling in
// insertion order. Items at or above the ceiling are parked, not returned.
func (s *Store) DequeuePending(ctx context.Context, maxRetry int) ([]record.SyncQueueItem, error) {
	var items []record.SyncQueueItem
	err := s.db.WithContext(ctx).
		Where("synced = ? AND retry_count < ?", false, maxRetry).
		Order("item_id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("localstore: dequeue pending: %w", err)
	}
	return items, nil
}

// MarkSynced flags one queue row as confirmed by the server.
func (s *Store) MarkSynced(ctx context.Context, itemID int64) error {
	err := s.db.WithContext(ctx).Model(&record.SyncQueueItem{}).
		Where("item_id = ?", itemID).
		Update("synced", true).Error
	if err != nil {
		return fmt.Errorf("localstore: mark synced %d: %w", itemID, err)
	}
	return nil
}

// IncrementRetry bumps the attempt counter and records the failure cause. The
// row survives regardless of the counter value.
func (s *Store) IncrementRetry(ctx context.Context, itemID int64, cause string) error {
	err := s.db.WithContext(ctx).Model(&record.SyncQueueItem{}).
		Where("item_id = ?", itemID).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause,
		}).Error
	if err != nil {
		return fmt.Errorf("localstore: increment retry %d: %w", itemID, err)
	}
	return nil
}

// PendingCount counts every unsynced queue row, parked items included.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&record.SyncQueueItem{}).
		Where("synced = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("localstore: pending count: %w", err)
	}
	return int(count), nil
}

// QueueItems returns the whole mutation log in insertion order, synced and
// parked rows included, for inspection surfaces.
func (s *Store) QueueItems(ctx context.Context) ([]record.SyncQueueItem, error) {
	var items []record.SyncQueueItem
	if err := s.db.WithContext(ctx).Order("item_id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("localstore: list queue items: %w", err)
	}
	return items, nil
}
