package remote

import (
	"context"
	"time"

	"github.com/wartungswerk/fieldsync/internal/record"
)

// Credentials is the login payload for the upstream API.
type Credentials struct {
	Username string `json:"benutzername"`
	Password string `json:"passwort"`
}

// Session is the authenticated state returned by Login.
type Session struct {
	AccessToken string `json:"accessToken"`
	UserName    string `json:"userName"`
}

// CreatedAsset is the canonical representation the server returns for a newly
// created asset. The id replaces the client's temporary identifier.
type CreatedAsset struct {
	ID          string `json:"id"`
	AssetNumber string `json:"anlagenNummer"`
}

// ProcessedReport carries the inspection outcome for an asset within an assignment.
type ProcessedReport struct {
	Notes       string    `json:"bemerkung,omitempty"`
	ProcessedAt time.Time `json:"bearbeitetAm"`
}

// Client is the contract the sync engine requires from the upstream API. Every
// call either returns the canonical server representation or a classified *Error.
type Client interface {
	// Ping probes reachability without touching domain state.
	Ping(ctx context.Context) error

	Login(ctx context.Context, credentials Credentials) (Session, error)
	Logout(ctx context.Context) error

	CreateAsset(ctx context.Context, draft record.AssetDraft) (CreatedAsset, error)
	AttachAssetToAssignment(ctx context.Context, assignmentID, assetID string) error
	UpdateAsset(ctx context.Context, assetID string, fields map[string]any) error
	MarkProcessed(ctx context.Context, assignmentID, assetID string, report ProcessedReport) error
	UpdateAssignmentStatus(ctx context.Context, assignmentID string, status record.AssignmentStatus) error

	FetchAssignmentsForCurrentUser(ctx context.Context) ([]record.Assignment, error)
	FetchReferenceCodes(ctx context.Context) ([]record.ReferenceCode, error)
}
