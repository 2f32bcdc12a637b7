package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wartungswerk/fieldsync/internal/record"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRetryCeiling is the fixed number of drain attempts before an item is
// parked. Parked items stay queryable and are never silently deleted.
const DefaultRetryCeiling = 3

var (
	errMissingDatabase = errors.New("localstore: database handle is required")
	// ErrNotCached indicates the addressed record is absent from the local cache.
	ErrNotCached = errors.New("localstore: record not cached")
	noOpLogger   = zap.NewNop()
)

// StoreConfig describes the dependencies of the local store.
type StoreConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	RetryCeiling int
}

// Store is the single source of truth for what the UI renders and the durable
// staging area for unsynced writes. Every operation is transactional: either
// the whole mutation commits or none of it does.
type Store struct {
	db           *gorm.DB
	clock        func() time.Time
	logger       *zap.Logger
	retryCeiling int
}

// NewStore constructs the local store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	retryCeiling := cfg.RetryCeiling
	if retryCeiling <= 0 {
		retryCeiling = DefaultRetryCeiling
	}

	return &Store{
		db:           cfg.Database,
		clock:        clock,
		logger:       logger,
		retryCeiling: retryCeiling,
	}, nil
}

// RetryCeiling returns the configured drain-attempt ceiling.
func (s *Store) RetryCeiling() int {
	return s.retryCeiling
}

// CacheAssignment upserts a server-confirmed assignment and its embedded asset
// links, stamping them as synced. Never use this for locally mutated state.
func (s *Store) CacheAssignment(ctx context.Context, assignment record.Assignment) error {
	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cacheAssignmentTx(tx, assignment, now)
	})
}

func cacheAssignmentTx(tx *gorm.DB, assignment record.Assignment, now time.Time) error {
	links := assignment.AssetLinks
	assignment.AssetLinks = nil
	assignment.LastSyncedAt = now
	assignment.HasLocalChanges = false
	if assignment.LocationsJSON == "" {
		assignment.LocationsJSON = "[]"
	}
	if assignment.BuildingsJSON == "" {
		assignment.BuildingsJSON = "[]"
	}

	if err := tx.Save(&assignment).Error; err != nil {
		return fmt.Errorf("localstore: cache assignment %s: %w", assignment.ID, err)
	}

	for _, link := range links {
		link.AssignmentID = assignment.ID
		link.LocalChanges = false
		link.IsNew = false
		link.PendingJSON = "{}"
		if link.AttributesJSON == "" {
			link.AttributesJSON = "{}"
		}
		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("localstore: cache asset link %s: %w", link.ID, err)
		}
	}
	return nil
}

// UpdateAssetLocally merges a patch into the staged pending changes of the asset
// link addressed by asset id (not the local join id), applies it optimistically,
// and appends an update operation to the sync queue. Unknown assets are a
// silent no-op; callers must guarantee prior existence.
func (s *Store) UpdateAssetLocally(ctx context.Context, assetID record.AssetID, patch record.AssetPatch) error {
	if patch.IsZero() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link record.AssetLink
		err := tx.Where("asset_id = ?", assetID.String()).Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("localstore: load asset link %s: %w", assetID, err)
		}

		pending, err := link.PendingPatch()
		if err != nil {
			return err
		}
		if err := link.SetPendingPatch(pending.Merge(patch)); err != nil {
			return err
		}
		if err := patch.ApplyTo(&link); err != nil {
			return err
		}
		link.LocalChanges = true

		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("localstore: stage asset update %s: %w", assetID, err)
		}

		if err := enqueueTx(tx, record.UpdateAssetOperation{AssetID: assetID.String(), Patch: patch}); err != nil {
			return err
		}

		return markAssignmentDirtyTx(tx, link.AssignmentID)
	})
}

// MarkProcessedLocally flags an asset link as inspected, merges the worker's
// notes, and appends a processed operation keyed by assignment and asset.
func (s *Store) MarkProcessedLocally(ctx context.Context, assignmentID record.AssignmentID, assetID record.AssetID, notes string) error {
	processedAt := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link record.AssetLink
		err := tx.Where("assignment_id = ? AND asset_id = ?", assignmentID.String(), assetID.String()).
			Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: asset %s in assignment %s", ErrNotCached, assetID, assignmentID)
		}
		if err != nil {
			return fmt.Errorf("localstore: load asset link %s: %w", assetID, err)
		}

		link.Processed = true
		link.ProcessedAt = &processedAt
		link.Notes = mergeNotes(link.Notes, notes)
		link.LocalChanges = true

		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("localstore: stage processed mark %s: %w", assetID, err)
		}

		operation := record.MarkProcessedOperation{
			AssignmentID: assignmentID.String(),
			AssetID:      assetID.String(),
			Notes:        link.Notes,
			ProcessedAt:  processedAt,
		}
		if err := enqueueTx(tx, operation); err != nil {
			return err
		}

		return markAssignmentDirtyTx(tx, assignmentID.String())
	})
}

func mergeNotes(existing, incoming string) string {
	switch {
	case incoming == "":
		return existing
	case existing == "":
		return incoming
	default:
		return existing + "\n" + incoming
	}
}

// CreateAssetLocally inserts a brand-new asset link under a temporary id. The
// same identifier serves as both join id and asset id until reconciliation.
func (s *Store) CreateAssetLocally(ctx context.Context, tempID string, assignmentID record.AssignmentID, draft record.AssetDraft) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link := record.AssetLink{
			ID:              tempID,
			AssignmentID:    assignmentID.String(),
			AssetID:         tempID,
			Visible:         draft.Visible,
			SearchMode:      draft.SearchMode,
			Name:            draft.Name,
			AssetNumber:     draft.AssetNumber,
			ReferenceCode:   draft.ReferenceCode,
			Status:          draft.Status,
			ConditionRating: draft.ConditionRating,
			Description:     draft.Description,
			LocalChanges:    true,
			PendingJSON:     "{}",
			IsNew:           true,
		}
		if err := link.SetAttributes(draft.Attributes); err != nil {
			return err
		}

		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("localstore: create asset %s: %w", tempID, err)
		}

		operation := record.CreateAssetOperation{
			TempID:       tempID,
			AssignmentID: assignmentID.String(),
			Draft:        draft,
		}
		if err := enqueueTx(tx, operation); err != nil {
			return err
		}

		return markAssignmentDirtyTx(tx, assignmentID.String())
	})
}

// AttachAssetLocally caches an asset the server already created but could not
// link to its assignment, and queues the missing linkage. The link carries the
// server identity; only the membership is still unconfirmed, so replaying the
// queue must never recreate the asset.
func (s *Store) AttachAssetLocally(ctx context.Context, link record.AssetLink) error {
	link.IsNew = false
	link.LocalChanges = true
	link.PendingJSON = "{}"
	if link.AttributesJSON == "" {
		link.AttributesJSON = "{}"
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("localstore: stage unattached asset %s: %w", link.AssetID, err)
		}

		operation := record.AttachAssetOperation{
			AssignmentID: link.AssignmentID,
			AssetID:      link.AssetID,
		}
		if err := enqueueTx(tx, operation); err != nil {
			return err
		}

		return markAssignmentDirtyTx(tx, link.AssignmentID)
	})
}

// SetAssignmentStatusLocally moves an assignment through its lifecycle
// optimistically and queues the transition for the server.
func (s *Store) SetAssignmentStatusLocally(ctx context.Context, assignmentID record.AssignmentID, status record.AssignmentStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assignment record.Assignment
		err := tx.Where("assignment_id = ?", assignmentID.String()).Take(&assignment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: assignment %s", ErrNotCached, assignmentID)
		}
		if err != nil {
			return fmt.Errorf("localstore: load assignment %s: %w", assignmentID, err)
		}

		assignment.Status = status
		assignment.HasLocalChanges = true
		if err := tx.Save(&assignment).Error; err != nil {
			return fmt.Errorf("localstore: stage assignment status %s: %w", assignmentID, err)
		}

		operation := record.UpdateAssignmentStatusOperation{
			AssignmentID: assignmentID.String(),
			Status:       status,
		}
		return enqueueTx(tx, operation)
	})
}

// ReconcileTempID atomically replaces a temporary asset identity with the
// server-issued one: the link is re-inserted under the server id with identical
// field values, the temporary row is dropped, and the assignment membership
// carries over. A partial result would be a correctness violation, so the whole
// swap rides one transaction.
func (s *Store) ReconcileTempID(ctx context.Context, tempID, serverID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link record.AssetLink
		err := tx.Where("asset_id = ?", tempID).Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("localstore: load temp asset %s: %w", tempID, err)
		}

		reconciled := link
		reconciled.ID = serverID
		reconciled.AssetID = serverID
		reconciled.IsNew = false
		reconciled.LocalChanges = false
		reconciled.PendingJSON = "{}"

		if err := tx.Create(&reconciled).Error; err != nil {
			return fmt.Errorf("localstore: insert reconciled asset %s: %w", serverID, err)
		}
		if err := tx.Where("link_id = ?", link.ID).Delete(&record.AssetLink{}).Error; err != nil {
			return fmt.Errorf("localstore: drop temp asset %s: %w", tempID, err)
		}
		return nil
	})
}

// ClearAssetLocalChanges drops the staged patch and dirty flag after the
// server confirmed the asset's queued mutations.
func (s *Store) ClearAssetLocalChanges(ctx context.Context, assetID string) error {
	err := s.db.WithContext(ctx).Model(&record.AssetLink{}).
		Where("asset_id = ?", assetID).
		Updates(map[string]any{"local_changes": false, "pending_json": "{}"}).Error
	if err != nil {
		return fmt.Errorf("localstore: clear asset changes %s: %w", assetID, err)
	}
	return nil
}

// ClearAssignmentLocalChanges drops the assignment dirty flag after the server
// confirmed its queued status transition.
func (s *Store) ClearAssignmentLocalChanges(ctx context.Context, assignmentID string) error {
	err := s.db.WithContext(ctx).Model(&record.Assignment{}).
		Where("assignment_id = ?", assignmentID).
		Update("has_local_changes", false).Error
	if err != nil {
		return fmt.Errorf("localstore: clear assignment changes %s: %w", assignmentID, err)
	}
	return nil
}

// CacheAssetLink upserts one server-confirmed asset link.
func (s *Store) CacheAssetLink(ctx context.Context, link record.AssetLink) error {
	link.IsNew = false
	link.LocalChanges = false
	link.PendingJSON = "{}"
	if link.AttributesJSON == "" {
		link.AttributesJSON = "{}"
	}
	if err := s.db.WithContext(ctx).Save(&link).Error; err != nil {
		return fmt.Errorf("localstore: cache asset link %s: %w", link.ID, err)
	}
	return nil
}

// ApplyConfirmedAssetPatch writes server-confirmed field values onto a cached
// link without staging anything for sync. Unknown assets are a silent no-op.
func (s *Store) ApplyConfirmedAssetPatch(ctx context.Context, assetID string, patch record.AssetPatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link record.AssetLink
		err := tx.Where("asset_id = ?", assetID).Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("localstore: load asset link %s: %w", assetID, err)
		}
		if err := patch.ApplyTo(&link); err != nil {
			return err
		}
		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("localstore: apply confirmed patch %s: %w", assetID, err)
		}
		return nil
	})
}

// ApplyConfirmedProcessed records a server-confirmed inspection without
// staging anything for sync.
func (s *Store) ApplyConfirmedProcessed(ctx context.Context, assignmentID, assetID, notes string, processedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link record.AssetLink
		err := tx.Where("assignment_id = ? AND asset_id = ?", assignmentID, assetID).Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("localstore: load asset link %s: %w", assetID, err)
		}
		link.Processed = true
		link.ProcessedAt = &processedAt
		link.Notes = mergeNotes(link.Notes, notes)
		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("localstore: apply confirmed processed %s: %w", assetID, err)
		}
		return nil
	})
}

// ApplyConfirmedAssignmentStatus records a server-confirmed lifecycle
// transition without staging anything for sync.
func (s *Store) ApplyConfirmedAssignmentStatus(ctx context.Context, assignmentID string, status record.AssignmentStatus) error {
	err := s.db.WithContext(ctx).Model(&record.Assignment{}).
		Where("assignment_id = ?", assignmentID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("localstore: apply confirmed status %s: %w", assignmentID, err)
	}
	return nil
}

// FullReplace wipes the assignment and asset link caches and recaches the given
// canonical set. Destructive: only the sync coordinator may call this, and only
// after a zero-failure pass.
func (s *Store) FullReplace(ctx context.Context, assignments []record.Assignment) error {
	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&record.AssetLink{}).Error; err != nil {
			return fmt.Errorf("localstore: clear asset links: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&record.Assignment{}).Error; err != nil {
			return fmt.Errorf("localstore: clear assignments: %w", err)
		}
		for _, assignment := range assignments {
			if err := cacheAssignmentTx(tx, assignment, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceReferenceCodes swaps the cached classification hierarchy wholesale.
func (s *Store) ReplaceReferenceCodes(ctx context.Context, codes []record.ReferenceCode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&record.ReferenceCode{}).Error; err != nil {
			return fmt.Errorf("localstore: clear reference codes: %w", err)
		}
		for _, code := range codes {
			if err := tx.Create(&code).Error; err != nil {
				return fmt.Errorf("localstore: cache reference code %s: %w", code.Code, err)
			}
		}
		return nil
	})
}

// GetAssignment loads one cached assignment with its asset links hydrated.
func (s *Store) GetAssignment(ctx context.Context, assignmentID string) (record.Assignment, error) {
	var assignment record.Assignment
	err := s.db.WithContext(ctx).Where("assignment_id = ?", assignmentID).Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record.Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotCached, assignmentID)
	}
	if err != nil {
		return record.Assignment{}, fmt.Errorf("localstore: load assignment %s: %w", assignmentID, err)
	}

	if err := s.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("link_id ASC").
		Find(&assignment.AssetLinks).Error; err != nil {
		return record.Assignment{}, fmt.Errorf("localstore: load asset links %s: %w", assignmentID, err)
	}
	return assignment, nil
}

// ListAssignments loads all cached assignments with their asset links hydrated.
func (s *Store) ListAssignments(ctx context.Context) ([]record.Assignment, error) {
	var assignments []record.Assignment
	if err := s.db.WithContext(ctx).Order("assignment_id ASC").Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("localstore: list assignments: %w", err)
	}
	for index := range assignments {
		if err := s.db.WithContext(ctx).
			Where("assignment_id = ?", assignments[index].ID).
			Order("link_id ASC").
			Find(&assignments[index].AssetLinks).Error; err != nil {
			return nil, fmt.Errorf("localstore: load asset links %s: %w", assignments[index].ID, err)
		}
	}
	return assignments, nil
}

// GetAssetLink loads one cached asset link by asset id.
func (s *Store) GetAssetLink(ctx context.Context, assetID string) (record.AssetLink, error) {
	var link record.AssetLink
	err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record.AssetLink{}, fmt.Errorf("%w: asset %s", ErrNotCached, assetID)
	}
	if err != nil {
		return record.AssetLink{}, fmt.Errorf("localstore: load asset link %s: %w", assetID, err)
	}
	return link, nil
}

// SearchReferenceCodes matches cached classification codes by code prefix or
// name fragment for offline lookup.
func (s *Store) SearchReferenceCodes(ctx context.Context, query string, limit int) ([]record.ReferenceCode, error) {
	if limit <= 0 {
		limit = 50
	}
	var codes []record.ReferenceCode
	pattern := "%" + query + "%"
	err := s.db.WithContext(ctx).
		Where("code LIKE ? OR name LIKE ?", query+"%", pattern).
		Order("code ASC").
		Limit(limit).
		Find(&codes).Error
	if err != nil {
		return nil, fmt.Errorf("localstore: search reference codes: %w", err)
	}
	return codes, nil
}

func markAssignmentDirtyTx(tx *gorm.DB, assignmentID string) error {
	err := tx.Model(&record.Assignment{}).
		Where("assignment_id = ?", assignmentID).
		Update("has_local_changes", true).Error
	if err != nil {
		return fmt.Errorf("localstore: mark assignment dirty %s: %w", assignmentID, err)
	}
	return nil
}
