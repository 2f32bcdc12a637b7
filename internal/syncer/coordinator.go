package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wartungswerk/fieldsync/internal/localstore"
	"github.com/wartungswerk/fieldsync/internal/record"
	"github.com/wartungswerk/fieldsync/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	errMissingStore        = errors.New("syncer: local store is required")
	errMissingRemote       = errors.New("syncer: remote client is required")
	errMissingConnectivity = errors.New("syncer: connectivity source is required")
)

// ErrSyncInProgress is returned when a pass is rejected because another one
// holds the permit. Concurrent requests are rejected, never serialized.
var ErrSyncInProgress = errors.New("sync already in progress")

// ConnectivitySource reports current reachability.
type ConnectivitySource interface {
	IsOnline(ctx context.Context) bool
}

// Result describes one completed (or rejected) sync pass.
type Result struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// TokenSink is implemented by remote clients whose session token the
// coordinator must drop after an authentication failure.
type TokenSink interface {
	SetToken(token string)
}

// CoordinatorConfig describes the dependencies of the sync coordinator.
type CoordinatorConfig struct {
	Store        *localstore.Store
	Remote       remote.Client
	Connectivity ConnectivitySource
	Logger       *zap.Logger
	Clock        func() time.Time
	Dispatcher   *Dispatcher
}

// Coordinator drives one sync pass at a time: drain the mutation log, update
// the local store per outcome, and refresh the cache wholesale once the queue
// is clean.
type Coordinator struct {
	store        *localstore.Store
	remote       remote.Client
	connectivity ConnectivitySource
	logger       *zap.Logger
	clock        func() time.Time
	dispatcher   *Dispatcher

	// permit is the single-permit lock making the reject-concurrent-passes
	// contract explicit.
	permit *semaphore.Weighted
}

// NewCoordinator constructs the sync coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Connectivity == nil {
		return nil, errMissingConnectivity
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}

	return &Coordinator{
		store:        cfg.Store,
		remote:       cfg.Remote,
		connectivity: cfg.Connectivity,
		logger:       logger,
		clock:        clock,
		dispatcher:   dispatcher,
		permit:       semaphore.NewWeighted(1),
	}, nil
}

// Dispatcher exposes the pass result fan-out for UI surfaces.
func (c *Coordinator) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// SyncAll runs one sync pass to completion and reports a structured result.
// Item-level failures are recorded and retried on a later pass; pass-level
// failures (offline, busy, auth) abort cleanly with the queue untouched.
func (c *Coordinator) SyncAll(ctx context.Context) Result {
	if !c.permit.TryAcquire(1) {
		return Result{Success: false, Errors: []string{ErrSyncInProgress.Error()}}
	}
	defer c.permit.Release(1)

	result := c.runPass(ctx)
	c.dispatcher.Publish(result)
	return result
}

func (c *Coordinator) runPass(ctx context.Context) Result {
	result := Result{Errors: []string{}}

	online := c.connectivity.IsOnline(ctx)
	if err := c.store.UpdateOfflineState(ctx, online); err != nil {
		c.logger.Warn("offline state update failed", zap.Error(err))
	}
	if err := c.store.TouchSyncAttempt(ctx); err != nil {
		c.logger.Warn("sync attempt stamp failed", zap.Error(err))
	}
	if !online {
		result.Errors = append(result.Errors, "device is offline")
		return result
	}

	items, err := c.store.DequeuePending(ctx, c.store.RetryCeiling())
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	batches, decodeFailures := coalesce(items)
	for _, failure := range decodeFailures {
		if err := c.store.IncrementRetry(ctx, failure.itemID, failure.cause); err != nil {
			c.logger.Warn("retry bookkeeping failed", zap.Int64("item", failure.itemID), zap.Error(err))
		}
		result.Failed++
		result.Errors = append(result.Errors, failure.cause)
	}

	aborted := false
	// Identifiers reconciled earlier in this pass; later items queued against a
	// temp id must be replayed under the server-issued one.
	reassigned := map[string]string{}

	for _, batch := range batches {
		dispatchErr := c.dispatch(ctx, batch.operation, reassigned)
		if dispatchErr == nil {
			for _, itemID := range batch.itemIDs {
				if err := c.store.MarkSynced(ctx, itemID); err != nil {
					c.logger.Warn("mark synced failed", zap.Int64("item", itemID), zap.Error(err))
				}
			}
			result.Synced += len(batch.itemIDs)
			continue
		}

		var attachFailure *attachError
		if errors.As(dispatchErr, &attachFailure) {
			// The creation itself is durable on the server; replaying the item
			// would duplicate the asset. Confirm the rows but count the failure
			// so the refresh stays blocked until membership is consistent.
			for _, itemID := range batch.itemIDs {
				if err := c.store.MarkSynced(ctx, itemID); err != nil {
					c.logger.Warn("mark synced failed", zap.Int64("item", itemID), zap.Error(err))
				}
			}
			result.Synced += len(batch.itemIDs)
			result.Failed++
			result.Errors = append(result.Errors, dispatchErr.Error())
			continue
		}

		switch remote.KindOf(dispatchErr) {
		case remote.KindOffline:
			// Connectivity vanished mid-pass; leave the queue untouched.
			result.Errors = append(result.Errors, dispatchErr.Error())
			aborted = true
		case remote.KindAuth:
			c.clearSession(ctx)
			result.Errors = append(result.Errors, dispatchErr.Error())
			aborted = true
		default:
			for _, itemID := range batch.itemIDs {
				if err := c.store.IncrementRetry(ctx, itemID, dispatchErr.Error()); err != nil {
					c.logger.Warn("retry bookkeeping failed", zap.Int64("item", itemID), zap.Error(err))
				}
			}
			result.Failed += len(batch.itemIDs)
			result.Errors = append(result.Errors, dispatchErr.Error())
		}
		if aborted {
			break
		}
	}

	if result.Synced > 0 {
		if err := c.store.TouchSyncSuccess(ctx); err != nil {
			c.logger.Warn("sync success stamp failed", zap.Error(err))
		}
	}

	// The refresh overwrites local state wholesale, so it only runs when every
	// pending intent reached the server; anything less would drop user work.
	if !aborted && result.Failed == 0 && c.connectivity.IsOnline(ctx) {
		if err := c.fullRefresh(ctx); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	result.Success = !aborted && result.Failed == 0 && len(result.Errors) == 0
	if result.Success {
		c.logger.Info("sync pass completed", zap.Int("synced", result.Synced))
	} else {
		c.logger.Warn("sync pass completed with errors",
			zap.Int("synced", result.Synced),
			zap.Int("failed", result.Failed),
			zap.Strings("errors", result.Errors))
	}
	return result
}

// attachError marks a pass where the asset creation committed upstream but the
// assignment linkage did not.
type attachError struct {
	cause error
}

func (e *attachError) Error() string {
	return fmt.Sprintf("asset created but assignment attach failed: %v", e.cause)
}

func (e *attachError) Unwrap() error {
	return e.cause
}

type operationBatch struct {
	operation record.Operation
	itemIDs   []int64
}

type decodeFailure struct {
	itemID int64
	cause  string
}

// coalesce decodes queue rows and merges contiguous same-asset update items
// into one batch so only the merged patch is replayed. Every source row shares
// its batch's outcome. FIFO positions follow the earliest member. A processed
// report for the asset ends the run: edits made after it must replay after it,
// or its note snapshot would overwrite them upstream.
func coalesce(items []record.SyncQueueItem) ([]operationBatch, []decodeFailure) {
	batches := make([]operationBatch, 0, len(items))
	var failures []decodeFailure
	updateIndex := map[string]int{}

	for _, item := range items {
		operation, err := record.DecodeOperation(item)
		if err != nil {
			failures = append(failures, decodeFailure{itemID: item.ID, cause: err.Error()})
			continue
		}

		switch op := operation.(type) {
		case record.UpdateAssetOperation:
			if index, seen := updateIndex[op.AssetID]; seen {
				existing := batches[index].operation.(record.UpdateAssetOperation)
				existing.Patch = existing.Patch.Merge(op.Patch)
				batches[index].operation = existing
				batches[index].itemIDs = append(batches[index].itemIDs, item.ID)
				continue
			}
			updateIndex[op.AssetID] = len(batches)
		case record.MarkProcessedOperation:
			delete(updateIndex, op.AssetID)
		}

		batches = append(batches, operationBatch{operation: operation, itemIDs: []int64{item.ID}})
	}
	return batches, failures
}

func (c *Coordinator) dispatch(ctx context.Context, operation record.Operation, reassigned map[string]string) error {
	switch op := operation.(type) {
	case record.CreateAssetOperation:
		created, err := c.remote.CreateAsset(ctx, op.Draft)
		if err != nil {
			return err
		}
		if err := c.store.ReconcileTempID(ctx, op.TempID, created.ID); err != nil {
			return err
		}
		reassigned[op.TempID] = created.ID
		if op.AssignmentID != "" {
			if err := c.remote.AttachAssetToAssignment(ctx, op.AssignmentID, created.ID); err != nil {
				// Stage the linkage separately so a later pass can complete it
				// without replaying the creation.
				attach := record.AttachAssetOperation{AssignmentID: op.AssignmentID, AssetID: created.ID}
				if enqueueErr := c.store.Enqueue(ctx, attach); enqueueErr != nil {
					c.logger.Warn("attach staging failed", zap.String("asset", created.ID), zap.Error(enqueueErr))
				}
				return &attachError{cause: err}
			}
		}
		return nil

	case record.AttachAssetOperation:
		assetID := op.AssetID
		if serverID, ok := reassigned[assetID]; ok {
			assetID = serverID
		}
		if err := c.remote.AttachAssetToAssignment(ctx, op.AssignmentID, assetID); err != nil {
			return err
		}
		return c.store.ClearAssetLocalChanges(ctx, assetID)

	case record.UpdateAssetOperation:
		assetID := op.AssetID
		if serverID, ok := reassigned[assetID]; ok {
			assetID = serverID
		}
		if err := c.remote.UpdateAsset(ctx, assetID, op.Patch.RemoteFields()); err != nil {
			return err
		}
		return c.store.ClearAssetLocalChanges(ctx, assetID)

	case record.MarkProcessedOperation:
		assetID := op.AssetID
		if serverID, ok := reassigned[assetID]; ok {
			assetID = serverID
		}
		report := remote.ProcessedReport{Notes: op.Notes, ProcessedAt: op.ProcessedAt}
		if err := c.remote.MarkProcessed(ctx, op.AssignmentID, assetID, report); err != nil {
			return err
		}
		return c.store.ClearAssetLocalChanges(ctx, assetID)

	case record.UpdateAssignmentStatusOperation:
		if err := c.remote.UpdateAssignmentStatus(ctx, op.AssignmentID, op.Status); err != nil {
			return err
		}
		return c.store.ClearAssignmentLocalChanges(ctx, op.AssignmentID)
	}

	return fmt.Errorf("%w: %T", record.ErrUnknownOperation, operation)
}

// fullRefresh pulls the canonical assignment set and reference hierarchy and
// replaces the local caches. Only safe once the queue has fully drained. An
// empty server collection means "nothing assigned" and clears the caches; the
// server is authoritative for membership.
func (c *Coordinator) fullRefresh(ctx context.Context) error {
	assignments, err := c.remote.FetchAssignmentsForCurrentUser(ctx)
	if err != nil {
		return err
	}
	codes, err := c.remote.FetchReferenceCodes(ctx)
	if err != nil {
		return err
	}

	if err := c.store.FullReplace(ctx, assignments); err != nil {
		return err
	}
	if err := c.store.ReplaceReferenceCodes(ctx, codes); err != nil {
		return err
	}

	c.logger.Info("full refresh applied",
		zap.Int("assignments", len(assignments)),
		zap.Int("reference_codes", len(codes)))
	return nil
}

// clearSession drops credentials after an auth failure; the queue stays intact
// so the pass can be retried after the worker logs back in.
func (c *Coordinator) clearSession(ctx context.Context) {
	if err := c.store.ClearCredentials(ctx); err != nil {
		c.logger.Warn("credential clear failed", zap.Error(err))
	}
	if sink, ok := c.remote.(TokenSink); ok {
		sink.SetToken("")
	}
}
