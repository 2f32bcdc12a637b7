package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AssignmentStatus enumerates the lifecycle states of a field assignment.
type AssignmentStatus string

const (
	// AssignmentStatusPrepared marks an assignment that has not been started.
	AssignmentStatusPrepared AssignmentStatus = "prepared"
	// AssignmentStatusInProgress marks an assignment the worker is actively on.
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	// AssignmentStatusCompleted marks a finished assignment.
	AssignmentStatusCompleted AssignmentStatus = "completed"
	// AssignmentStatusPaused marks an interrupted assignment.
	AssignmentStatusPaused AssignmentStatus = "paused"
)

// ErrInvalidAssignmentStatus indicates a status value outside the known set.
var ErrInvalidAssignmentStatus = errors.New("record: invalid assignment status")

// NewAssignmentStatus validates raw input and returns an AssignmentStatus.
func NewAssignmentStatus(rawInput string) (AssignmentStatus, error) {
	status := AssignmentStatus(strings.ToLower(strings.TrimSpace(rawInput)))
	switch status {
	case AssignmentStatusPrepared, AssignmentStatusInProgress, AssignmentStatusCompleted, AssignmentStatusPaused:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAssignmentStatus, rawInput)
}

const maxIdentifierLength = 190

var (
	// ErrInvalidAssetID indicates that an asset identifier is empty or exceeds storage bounds.
	ErrInvalidAssetID = errors.New("record: invalid asset id")
	// ErrInvalidAssignmentID indicates that an assignment identifier is empty or exceeds storage bounds.
	ErrInvalidAssignmentID = errors.New("record: invalid assignment id")
)

// AssetID represents a validated asset identifier. Temporary identifiers issued
// while offline are valid AssetIDs until reconciliation swaps them out.
type AssetID string

// NewAssetID validates raw input and returns an AssetID.
func NewAssetID(rawInput string) (AssetID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAssetID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAssetID, maxIdentifierLength)
	}
	return AssetID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AssetID) String() string {
	return string(id)
}

// AssignmentID represents a validated assignment identifier.
type AssignmentID string

// NewAssignmentID validates raw input and returns an AssignmentID.
func NewAssignmentID(rawInput string) (AssignmentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAssignmentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAssignmentID, maxIdentifierLength)
	}
	return AssignmentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AssignmentID) String() string {
	return string(id)
}

// PlaceRef is a denormalized pointer to a location or building attached to an assignment.
type PlaceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Assignment models a cached unit of field work together with sync bookkeeping.
type Assignment struct {
	ID              string           `gorm:"column:assignment_id;primaryKey;size:190;not null"`
	Title           string           `gorm:"column:title;size:320;not null"`
	Description     string           `gorm:"column:description;type:text;not null;default:''"`
	Status          AssignmentStatus `gorm:"column:status;size:32;not null"`
	StartsAt        *time.Time       `gorm:"column:starts_at"`
	EndsAt          *time.Time       `gorm:"column:ends_at"`
	AssigneeName    string           `gorm:"column:assignee_name;size:320;not null;default:''"`
	CreatorName     string           `gorm:"column:creator_name;size:320;not null;default:''"`
	LocationsJSON   string           `gorm:"column:locations_json;type:text;not null;default:'[]'"`
	BuildingsJSON   string           `gorm:"column:buildings_json;type:text;not null;default:'[]'"`
	LastSyncedAt    time.Time        `gorm:"column:last_synced_at"`
	HasLocalChanges bool             `gorm:"column:has_local_changes;not null;default:false"`

	// AssetLinks is hydrated by the local store; it is not a GORM association.
	AssetLinks []AssetLink `gorm:"-" json:"assetLinks,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Assignment) TableName() string {
	return "assignments"
}

// Locations decodes the denormalized location references.
func (a Assignment) Locations() ([]PlaceRef, error) {
	return decodePlaceRefs(a.LocationsJSON)
}

// Buildings decodes the denormalized building references.
func (a Assignment) Buildings() ([]PlaceRef, error) {
	return decodePlaceRefs(a.BuildingsJSON)
}

// SetLocations encodes the provided location references onto the record.
func (a *Assignment) SetLocations(refs []PlaceRef) error {
	encoded, err := encodePlaceRefs(refs)
	if err != nil {
		return err
	}
	a.LocationsJSON = encoded
	return nil
}

// SetBuildings encodes the provided building references onto the record.
func (a *Assignment) SetBuildings(refs []PlaceRef) error {
	encoded, err := encodePlaceRefs(refs)
	if err != nil {
		return err
	}
	a.BuildingsJSON = encoded
	return nil
}

func decodePlaceRefs(raw string) ([]PlaceRef, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var refs []PlaceRef
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("record: decode place refs: %w", err)
	}
	return refs, nil
}

func encodePlaceRefs(refs []PlaceRef) (string, error) {
	if refs == nil {
		refs = []PlaceRef{}
	}
	encoded, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("record: encode place refs: %w", err)
	}
	return string(encoded), nil
}

// AssetLink joins an assignment to a physical asset and carries the worker-facing
// flags plus any unsynced local edits.
type AssetLink struct {
	ID              string     `gorm:"column:link_id;primaryKey;size:190;not null"`
	AssignmentID    string     `gorm:"column:assignment_id;size:190;not null;index:idx_asset_links_assignment"`
	AssetID         string     `gorm:"column:asset_id;size:190;not null;index:idx_asset_links_asset"`
	Visible         bool       `gorm:"column:visible;not null;default:true"`
	SearchMode      bool       `gorm:"column:search_mode;not null;default:false"`
	Notes           string     `gorm:"column:notes;type:text;not null;default:''"`
	Processed       bool       `gorm:"column:processed;not null;default:false"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
	Name            string     `gorm:"column:asset_name;size:320;not null;default:''"`
	AssetNumber     string     `gorm:"column:asset_number;size:190;not null;default:''"`
	ReferenceCode   string     `gorm:"column:reference_code;size:64;not null;default:''"`
	Status          string     `gorm:"column:asset_status;size:64;not null;default:''"`
	ConditionRating int        `gorm:"column:condition_rating;not null;default:0"`
	Description     string     `gorm:"column:asset_description;type:text;not null;default:''"`
	AttributesJSON  string     `gorm:"column:attributes_json;type:text;not null;default:'{}'"`
	LocalChanges    bool       `gorm:"column:local_changes;not null;default:false"`
	PendingJSON     string     `gorm:"column:pending_json;type:text;not null;default:'{}'"`
	IsNew           bool       `gorm:"column:is_new;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (AssetLink) TableName() string {
	return "asset_links"
}

// Attributes decodes the dynamic asset attributes.
func (l AssetLink) Attributes() (map[string]string, error) {
	if strings.TrimSpace(l.AttributesJSON) == "" {
		return map[string]string{}, nil
	}
	attributes := map[string]string{}
	if err := json.Unmarshal([]byte(l.AttributesJSON), &attributes); err != nil {
		return nil, fmt.Errorf("record: decode attributes: %w", err)
	}
	return attributes, nil
}

// SetAttributes encodes the dynamic asset attributes onto the record.
func (l *AssetLink) SetAttributes(attributes map[string]string) error {
	if attributes == nil {
		attributes = map[string]string{}
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("record: encode attributes: %w", err)
	}
	l.AttributesJSON = string(encoded)
	return nil
}

// PendingPatch decodes the union of unsynced edits staged on this link.
func (l AssetLink) PendingPatch() (AssetPatch, error) {
	if strings.TrimSpace(l.PendingJSON) == "" {
		return AssetPatch{}, nil
	}
	var patch AssetPatch
	if err := json.Unmarshal([]byte(l.PendingJSON), &patch); err != nil {
		return AssetPatch{}, fmt.Errorf("record: decode pending patch: %w", err)
	}
	return patch, nil
}

// SetPendingPatch encodes the staged patch onto the record.
func (l *AssetLink) SetPendingPatch(patch AssetPatch) error {
	encoded, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("record: encode pending patch: %w", err)
	}
	l.PendingJSON = string(encoded)
	return nil
}

// ReferenceCode is one node of the read-only classification hierarchy cached for
// offline lookup.
type ReferenceCode struct {
	Code                string `gorm:"column:code;primaryKey;size:64;not null"`
	Name                string `gorm:"column:name;size:320;not null"`
	Description         string `gorm:"column:description;type:text;not null;default:''"`
	Level               int    `gorm:"column:level;not null;default:0"`
	ParentCode          string `gorm:"column:parent_code;size:64;not null;default:'';index:idx_reference_codes_parent"`
	IsCategory          bool   `gorm:"column:is_category;not null;default:false"`
	MaintenanceInterval int    `gorm:"column:maintenance_interval_months;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (ReferenceCode) TableName() string {
	return "reference_codes"
}

// OfflineStateID is the fixed key of the singleton connectivity row.
const OfflineStateID = "main"

// OfflineState is the singleton connectivity and sync status record.
type OfflineState struct {
	ID                   string     `gorm:"column:state_id;primaryKey;size:32;not null"`
	IsOnline             bool       `gorm:"column:is_online;not null;default:false"`
	LastOnlineAt         *time.Time `gorm:"column:last_online_at"`
	PendingSyncCount     int        `gorm:"column:pending_sync_count;not null;default:0"`
	LastSyncAttemptAt    *time.Time `gorm:"column:last_sync_attempt_at"`
	LastSuccessfulSyncAt *time.Time `gorm:"column:last_successful_sync_at"`
}

// TableName provides the explicit table binding for GORM.
func (OfflineState) TableName() string {
	return "offline_state"
}

// CredentialsID is the fixed key of the singleton credentials row.
const CredentialsID = "main"

// Credentials persists the worker's session so the client survives restarts offline.
type Credentials struct {
	ID          string    `gorm:"column:credentials_id;primaryKey;size:32;not null"`
	AccessToken string    `gorm:"column:access_token;type:text;not null;default:''"`
	UserName    string    `gorm:"column:user_name;size:320;not null;default:''"`
	SavedAt     time.Time `gorm:"column:saved_at"`
}

// TableName provides the explicit table binding for GORM.
func (Credentials) TableName() string {
	return "credentials"
}
