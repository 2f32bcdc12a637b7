package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/wartungswerk/fieldsync/internal/record"
	"gorm.io/gorm"
)

// GetOfflineState loads the singleton connectivity record, creating it on first
// access.
func (s *Store) GetOfflineState(ctx context.Context) (record.OfflineState, error) {
	var state record.OfflineState
	err := s.db.WithContext(ctx).Where("state_id = ?", record.OfflineStateID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = record.OfflineState{ID: record.OfflineStateID}
		if err := s.db.WithContext(ctx).Create(&state).Error; err != nil {
			return record.OfflineState{}, fmt.Errorf("localstore: init offline state: %w", err)
		}
		return state, nil
	}
	if err != nil {
		return record.OfflineState{}, fmt.Errorf("localstore: load offline state: %w", err)
	}
	return state, nil
}

// UpdateOfflineState records the current reachability and refreshes the pending
// counter the UI surfaces.
func (s *Store) UpdateOfflineState(ctx context.Context, isOnline bool) error {
	pending, err := s.PendingCount(ctx)
	if err != nil {
		return err
	}

	state, err := s.GetOfflineState(ctx)
	if err != nil {
		return err
	}

	state.IsOnline = isOnline
	state.PendingSyncCount = pending
	if isOnline {
		now := s.clock().UTC()
		state.LastOnlineAt = &now
	}

	if err := s.db.WithContext(ctx).Save(&state).Error; err != nil {
		return fmt.Errorf("localstore: update offline state: %w", err)
	}
	return nil
}

// TouchSyncAttempt stamps the start of a sync pass.
func (s *Store) TouchSyncAttempt(ctx context.Context) error {
	state, err := s.GetOfflineState(ctx)
	if err != nil {
		return err
	}
	now := s.clock().UTC()
	state.LastSyncAttemptAt = &now
	if err := s.db.WithContext(ctx).Save(&state).Error; err != nil {
		return fmt.Errorf("localstore: touch sync attempt: %w", err)
	}
	return nil
}

// TouchSyncSuccess stamps a pass that confirmed at least one item.
func (s *Store) TouchSyncSuccess(ctx context.Context) error {
	state, err := s.GetOfflineState(ctx)
	if err != nil {
		return err
	}
	now := s.clock().UTC()
	state.LastSuccessfulSyncAt = &now
	if err := s.db.WithContext(ctx).Save(&state).Error; err != nil {
		return fmt.Errorf("localstore: touch sync success: %w", err)
	}
	return nil
}

// SaveCredentials persists the worker's session for offline restarts.
func (s *Store) SaveCredentials(ctx context.Context, accessToken, userName string) error {
	credentials := record.Credentials{
		ID:          record.CredentialsID,
		AccessToken: accessToken,
		UserName:    userName,
		SavedAt:     s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&credentials).Error; err != nil {
		return fmt.Errorf("localstore: save credentials: %w", err)
	}
	return nil
}

// Credentials loads the persisted session, or ErrNotCached when logged out.
func (s *Store) Credentials(ctx context.Context) (record.Credentials, error) {
	var credentials record.Credentials
	err := s.db.WithContext(ctx).Where("credentials_id = ?", record.CredentialsID).Take(&credentials).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record.Credentials{}, fmt.Errorf("%w: credentials", ErrNotCached)
	}
	if err != nil {
		return record.Credentials{}, fmt.Errorf("localstore: load credentials: %w", err)
	}
	return credentials, nil
}

// ClearCredentials drops the persisted session, e.g. after an auth failure.
func (s *Store) ClearCredentials(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("credentials_id = ?", record.CredentialsID).
		Delete(&record.Credentials{}).Error
	if err != nil {
		return fmt.Errorf("localstore: clear credentials: %w", err)
	}
	return nil
}

// ClearAllLocalData wipes every cached table, the mutation log included. This
// is the only sanctioned way to discard unsynced work and must stay behind an
// explicit user action.
func (s *Store) ClearAllLocalData(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&record.AssetLink{},
			&record.Assignment{},
			&record.ReferenceCode{},
			&record.SyncQueueItem{},
			&record.Credentials{},
		} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return fmt.Errorf("localstore: clear local data: %w", err)
			}
		}
		return tx.Where("1 = 1").Delete(&record.OfflineState{}).Error
	})
}
