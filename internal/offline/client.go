package offline

import (
	"context"
	"errors"
	"time"

	"github.com/wartungswerk/fieldsync/internal/localstore"
	"github.com/wartungswerk/fieldsync/internal/record"
	"github.com/wartungswerk/fieldsync/internal/remote"
	"go.uber.org/zap"
)

var (
	errMissingRemote = errors.New("offline: remote client is required")
	errMissingStore  = errors.New("offline: local store is required")
)

// ClientConfig describes the dependencies of the offline-aware client.
type ClientConfig struct {
	Remote  remote.Client
	Store   *localstore.Store
	TempIDs record.TempIDProvider
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Client is the only write path to the network. Every mutation lands in the
// local store first or last: online writes apply the confirmed result to the
// cache, and when the network is down or flaky the write is staged optimistically
// with a queue entry instead. Auth and server rejections surface to the caller.
type Client struct {
	remote  remote.Client
	store   *localstore.Store
	tempIDs record.TempIDProvider
	clock   func() time.Time
	logger  *zap.Logger
}

// NewClient constructs the offline-aware client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}

	tempIDs := cfg.TempIDs
	if tempIDs == nil {
		tempIDs = record.NewTempIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		remote:  cfg.Remote,
		store:   cfg.Store,
		tempIDs: tempIDs,
		clock:   clock,
		logger:  logger,
	}, nil
}

// shouldFallBack reports whether a failed network write is handed to the local
// store. Only connectivity-class failures are; a business rejection must reach
// the caller instead of being silently queued.
func shouldFallBack(err error) bool {
	return remote.IsOffline(err) || remote.IsTransport(err)
}

// Login authenticates upstream and persists the session. There is no offline
// fallback for a first login; cached credentials cover restarts.
func (c *Client) Login(ctx context.Context, credentials remote.Credentials) (remote.Session, error) {
	session, err := c.remote.Login(ctx, credentials)
	if err != nil {
		return remote.Session{}, err
	}
	if err := c.store.SaveCredentials(ctx, session.AccessToken, session.UserName); err != nil {
		return remote.Session{}, err
	}
	return session, nil
}

// Logout drops the session locally and best-effort upstream; a dead network
// must not trap the worker in a logged-in state.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.remote.Logout(ctx); err != nil && !shouldFallBack(err) && !remote.IsAuth(err) {
		return err
	}
	return c.store.ClearCredentials(ctx)
}

// RestoreSession reinstalls persisted credentials into the remote client after
// a restart. Without cached credentials it is a no-op.
func (c *Client) RestoreSession(ctx context.Context) error {
	credentials, err := c.store.Credentials(ctx)
	if errors.Is(err, localstore.ErrNotCached) {
		return nil
	}
	if err != nil {
		return err
	}
	if sink, ok := c.remote.(interface{ SetToken(string) }); ok {
		sink.SetToken(credentials.AccessToken)
	}
	return nil
}

// UpdateAsset writes a field patch. Online, the confirmed result lands in the
// cache; offline, the patch is staged with a queue entry.
func (c *Client) UpdateAsset(ctx context.Context, assetID record.AssetID, patch record.AssetPatch) error {
	if record.IsTempID(assetID.String()) {
		// The asset does not exist upstream yet; the patch must ride the queue
		// behind its creation.
		return c.store.UpdateAssetLocally(ctx, assetID, patch)
	}

	err := c.remote.UpdateAsset(ctx, assetID.String(), patch.RemoteFields())
	if err == nil {
		return c.store.ApplyConfirmedAssetPatch(ctx, assetID.String(), patch)
	}
	if !shouldFallBack(err) {
		return err
	}

	c.logger.Debug("asset update staged offline", zap.String("asset", assetID.String()), zap.Error(err))
	return c.store.UpdateAssetLocally(ctx, assetID, patch)
}

// CreateAsset creates an asset within an assignment. Online, the server issues
// the identity immediately; offline, a temporary id stands in until sync.
func (c *Client) CreateAsset(ctx context.Context, assignmentID record.AssignmentID, draft record.AssetDraft) (record.AssetLink, error) {
	created, err := c.remote.CreateAsset(ctx, draft)
	if err == nil {
		link := record.AssetLink{
			ID:              created.ID,
			AssignmentID:    assignmentID.String(),
			AssetID:         created.ID,
			Visible:         draft.Visible,
			SearchMode:      draft.SearchMode,
			Name:            draft.Name,
			AssetNumber:     created.AssetNumber,
			ReferenceCode:   draft.ReferenceCode,
			Status:          draft.Status,
			ConditionRating: draft.ConditionRating,
			Description:     draft.Description,
		}
		if err := link.SetAttributes(draft.Attributes); err != nil {
			return record.AssetLink{}, err
		}
		if attachErr := c.remote.AttachAssetToAssignment(ctx, assignmentID.String(), created.ID); attachErr != nil {
			if !shouldFallBack(attachErr) {
				return record.AssetLink{}, attachErr
			}
			// The creation committed upstream; replaying it would duplicate
			// the asset. Only the missing linkage rides the queue.
			c.logger.Debug("asset attach staged offline", zap.String("asset", created.ID), zap.Error(attachErr))
			if err := c.store.AttachAssetLocally(ctx, link); err != nil {
				return record.AssetLink{}, err
			}
			return c.store.GetAssetLink(ctx, created.ID)
		}
		if err := c.store.CacheAssetLink(ctx, link); err != nil {
			return record.AssetLink{}, err
		}
		return c.store.GetAssetLink(ctx, created.ID)
	}
	if !shouldFallBack(err) {
		return record.AssetLink{}, err
	}

	tempID, idErr := c.tempIDs.NewTempID()
	if idErr != nil {
		return record.AssetLink{}, idErr
	}
	c.logger.Debug("asset creation staged offline", zap.String("temp_id", tempID), zap.Error(err))
	if err := c.store.CreateAssetLocally(ctx, tempID, assignmentID, draft); err != nil {
		return record.AssetLink{}, err
	}
	return c.store.GetAssetLink(ctx, tempID)
}

// MarkProcessed reports an asset as inspected, staging the report when the
// network is unavailable.
func (c *Client) MarkProcessed(ctx context.Context, assignmentID record.AssignmentID, assetID record.AssetID, notes string) error {
	if record.IsTempID(assetID.String()) {
		return c.store.MarkProcessedLocally(ctx, assignmentID, assetID, notes)
	}

	processedAt := c.clock().UTC()
	report := remote.ProcessedReport{Notes: notes, ProcessedAt: processedAt}
	err := c.remote.MarkProcessed(ctx, assignmentID.String(), assetID.String(), report)
	if err == nil {
		return c.store.ApplyConfirmedProcessed(ctx, assignmentID.String(), assetID.String(), notes, processedAt)
	}
	if !shouldFallBack(err) {
		return err
	}

	c.logger.Debug("processed mark staged offline", zap.String("asset", assetID.String()), zap.Error(err))
	return c.store.MarkProcessedLocally(ctx, assignmentID, assetID, notes)
}

// SetAssignmentStatus moves an assignment through its lifecycle, staging the
// transition when the network is unavailable.
func (c *Client) SetAssignmentStatus(ctx context.Context, assignmentID record.AssignmentID, status record.AssignmentStatus) error {
	err := c.remote.UpdateAssignmentStatus(ctx, assignmentID.String(), status)
	if err == nil {
		return c.store.ApplyConfirmedAssignmentStatus(ctx, assignmentID.String(), status)
	}
	if !shouldFallBack(err) {
		return err
	}

	c.logger.Debug("status change staged offline", zap.String("assignment", assignmentID.String()), zap.Error(err))
	return c.store.SetAssignmentStatusLocally(ctx, assignmentID, status)
}
