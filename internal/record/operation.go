package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OperationKind tags the queue operation variants.
type OperationKind string

const (
	// OperationKindCreateAsset creates an asset first seen offline.
	OperationKindCreateAsset OperationKind = "create_asset"
	// OperationKindAttachAsset links an already-created asset to its assignment.
	OperationKindAttachAsset OperationKind = "attach_asset"
	// OperationKindUpdateAsset replays a staged field patch.
	OperationKindUpdateAsset OperationKind = "update_asset"
	// OperationKindMarkProcessed reports an asset as inspected.
	OperationKindMarkProcessed OperationKind = "mark_processed"
	// OperationKindUpdateAssignmentStatus moves an assignment through its lifecycle.
	OperationKindUpdateAssignmentStatus OperationKind = "update_assignment_status"
)

// ErrUnknownOperation indicates a queue row whose kind is outside the closed set.
var ErrUnknownOperation = errors.New("record: unknown queue operation")

// Operation is the closed set of mutations the sync queue can carry. Each
// variant holds its own typed payload; the drain loop switches exhaustively.
type Operation interface {
	Kind() OperationKind
	TargetID() string
	sealedOperation()
}

// AssetDraft carries the full field set for an asset created offline.
type AssetDraft struct {
	Name            string            `json:"name"`
	AssetNumber     string            `json:"assetNumber,omitempty"`
	ReferenceCode   string            `json:"referenceCode,omitempty"`
	Status          string            `json:"status,omitempty"`
	ConditionRating int               `json:"conditionRating,omitempty"`
	Description     string            `json:"description,omitempty"`
	Visible         bool              `json:"visible"`
	SearchMode      bool              `json:"searchMode"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// CreateAssetOperation queues the creation of an asset under a temporary id.
type CreateAssetOperation struct {
	TempID       string     `json:"tempId"`
	AssignmentID string     `json:"assignmentId,omitempty"`
	Draft        AssetDraft `json:"draft"`
}

// Kind identifies the operation variant.
func (CreateAssetOperation) Kind() OperationKind { return OperationKindCreateAsset }

// TargetID returns the entity the operation addresses.
func (op CreateAssetOperation) TargetID() string { return op.TempID }

func (CreateAssetOperation) sealedOperation() {}

// AttachAssetOperation queues the assignment linkage of an asset whose creation
// already committed upstream. Replaying it never recreates the asset.
type AttachAssetOperation struct {
	AssignmentID string `json:"assignmentId"`
	AssetID      string `json:"assetId"`
}

// Kind identifies the operation variant.
func (AttachAssetOperation) Kind() OperationKind { return OperationKindAttachAsset }

// TargetID returns the composite assignment:asset key.
func (op AttachAssetOperation) TargetID() string {
	return op.AssignmentID + ":" + op.AssetID
}

func (AttachAssetOperation) sealedOperation() {}

// UpdateAssetOperation queues a sparse field patch against an existing asset.
type UpdateAssetOperation struct {
	AssetID string     `json:"assetId"`
	Patch   AssetPatch `json:"patch"`
}

// Kind identifies the operation variant.
func (UpdateAssetOperation) Kind() OperationKind { return OperationKindUpdateAsset }

// TargetID returns the entity the operation addresses.
func (op UpdateAssetOperation) TargetID() string { return op.AssetID }

func (UpdateAssetOperation) sealedOperation() {}

// MarkProcessedOperation queues the "asset inspected" report. Its target key is
// composite because processing is per assignment membership, not per asset.
type MarkProcessedOperation struct {
	AssignmentID string    `json:"assignmentId"`
	AssetID      string    `json:"assetId"`
	Notes        string    `json:"notes,omitempty"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// Kind identifies the operation variant.
func (MarkProcessedOperation) Kind() OperationKind { return OperationKindMarkProcessed }

// TargetID returns the composite assignment:asset key.
func (op MarkProcessedOperation) TargetID() string {
	return op.AssignmentID + ":" + op.AssetID
}

func (MarkProcessedOperation) sealedOperation() {}

// UpdateAssignmentStatusOperation queues an assignment lifecycle transition.
type UpdateAssignmentStatusOperation struct {
	AssignmentID string           `json:"assignmentId"`
	Status       AssignmentStatus `json:"status"`
}

// Kind identifies the operation variant.
func (UpdateAssignmentStatusOperation) Kind() OperationKind {
	return OperationKindUpdateAssignmentStatus
}

// TargetID returns the entity the operation addresses.
func (op UpdateAssignmentStatusOperation) TargetID() string { return op.AssignmentID }

func (UpdateAssignmentStatusOperation) sealedOperation() {}

// SyncQueueItem is one row of the append-only mutation log.
type SyncQueueItem struct {
	ID          int64         `gorm:"column:item_id;primaryKey;autoIncrement"`
	Kind        OperationKind `gorm:"column:op_kind;size:64;not null"`
	TargetID    string        `gorm:"column:target_id;size:400;not null;index:idx_sync_queue_target"`
	PayloadJSON string        `gorm:"column:payload_json;type:text;not null"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
	RetryCount  int           `gorm:"column:retry_count;not null;default:0"`
	LastError   string        `gorm:"column:last_error;type:text;not null;default:''"`
	Synced      bool          `gorm:"column:synced;not null;default:false;index:idx_sync_queue_pending"`
}

// TableName provides the explicit table binding for GORM.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// EncodeOperation serializes an operation into a fresh, unsynced queue row.
func EncodeOperation(op Operation) (SyncQueueItem, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return SyncQueueItem{}, fmt.Errorf("record: encode %s operation: %w", op.Kind(), err)
	}
	return SyncQueueItem{
		Kind:        op.Kind(),
		TargetID:    op.TargetID(),
		PayloadJSON: string(payload),
	}, nil
}

// DecodeOperation deserializes a queue row back into its typed variant.
func DecodeOperation(item SyncQueueItem) (Operation, error) {
	switch item.Kind {
	case OperationKindCreateAsset:
		var op CreateAssetOperation
		if err := json.Unmarshal([]byte(item.PayloadJSON), &op); err != nil {
			return nil, fmt.Errorf("record: decode %s payload: %w", item.Kind, err)
		}
		return op, nil
	case OperationKindAttachAsset:
		var op AttachAssetOperation
		if err := json.Unmarshal([]byte(item.PayloadJSON), &op); err != nil {
			return nil, fmt.Errorf("record: decode %s payload: %w", item.Kind, err)
		}
		return op, nil
	case OperationKindUpdateAsset:
		var op UpdateAssetOperation
		if err := json.Unmarshal([]byte(item.PayloadJSON), &op); err != nil {
			return nil, fmt.Errorf("record: decode %s payload: %w", item.Kind, err)
		}
		return op, nil
	case OperationKindMarkProcessed:
		var op MarkProcessedOperation
		if err := json.Unmarshal([]byte(item.PayloadJSON), &op); err != nil {
			return nil, fmt.Errorf("record: decode %s payload: %w", item.Kind, err)
		}
		return op, nil
	case OperationKindUpdateAssignmentStatus:
		var op UpdateAssignmentStatusOperation
		if err := json.Unmarshal([]byte(item.PayloadJSON), &op); err != nil {
			return nil, fmt.Errorf("record: decode %s payload: %w", item.Kind, err)
		}
		return op, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, item.Kind)
}
