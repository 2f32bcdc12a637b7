package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/wartungswerk/fieldsync/internal/record"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	errMissingBaseURL = errors.New("remote: base url is required")
	errNoSession      = errors.New("remote: no active session")
	errSessionExpired = errors.New("remote: session token expired")
)

// HTTPClientConfig describes the dependencies of the HTTP remote client.
type HTTPClientConfig struct {
	BaseURL string
	// Timeout bounds every remote call; expiry is classified as a transport fault.
	Timeout time.Duration
	Logger  *zap.Logger
}

// HTTPClient implements Client against the upstream REST API.
type HTTPClient struct {
	rest   *resty.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPClient constructs the HTTP remote client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "fieldsync-agent/1.0")

	return &HTTPClient{rest: rest, logger: logger}, nil
}

// SetToken installs the bearer token used for authorized calls. An empty token
// clears the session.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// sessionToken returns the current token after checking its expiry claim, so an
// expired session fails as an auth error before a wasted round trip.
func (c *HTTPClient) sessionToken(op string) (string, *Error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token == "" {
		return "", NewError(KindAuth, op, 0, errNoSession)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if expiry, err := claims.GetExpirationTime(); err == nil && expiry != nil && expiry.Before(time.Now()) {
			return "", NewError(KindAuth, op, 0, errSessionExpired)
		}
	}

	return token, nil
}

func (c *HTTPClient) checkResponse(op string, resp *resty.Response, err error) *Error {
	if err != nil {
		return classifyTransit(op, err)
	}
	if resp.IsError() {
		cause := fmt.Errorf("%s", strings.TrimSpace(resp.String()))
		return classifyStatus(op, resp.StatusCode(), cause)
	}
	return nil
}

// Ping probes the health endpoint without authentication.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/api/health")
	if classified := c.checkResponse("ping", resp, err); classified != nil {
		return classified
	}
	return nil
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		DisplayName string `json:"anzeigename"`
	} `json:"benutzer"`
}

// Login authenticates against the upstream API and installs the session token.
func (c *HTTPClient) Login(ctx context.Context, credentials Credentials) (Session, error) {
	var body loginResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(credentials).
		SetResult(&body).
		Post("/api/auth/login")
	if classified := c.checkResponse("login", resp, err); classified != nil {
		return Session{}, classified
	}

	c.SetToken(body.AccessToken)
	return Session{AccessToken: body.AccessToken, UserName: body.User.DisplayName}, nil
}

// Logout invalidates the session upstream and drops the local token either way.
func (c *HTTPClient) Logout(ctx context.Context) error {
	token, authErr := c.sessionToken("logout")
	if authErr != nil {
		return authErr
	}
	defer c.SetToken("")

	resp, err := c.rest.R().SetContext(ctx).SetAuthToken(token).Post("/api/auth/logout")
	if classified := c.checkResponse("logout", resp, err); classified != nil {
		return classified
	}
	return nil
}

func draftRemoteFields(draft record.AssetDraft) map[string]any {
	fields := map[string]any{
		"name":      draft.Name,
		"sichtbar":  draft.Visible,
		"suchmodus": draft.SearchMode,
	}
	if draft.AssetNumber != "" {
		fields["anlagenNummer"] = draft.AssetNumber
	}
	if draft.ReferenceCode != "" {
		fields["aksCode"] = draft.ReferenceCode
	}
	if draft.Status != "" {
		fields["status"] = draft.Status
	}
	if draft.ConditionRating != 0 {
		fields["zustandsbewertung"] = draft.ConditionRating
	}
	if draft.Description != "" {
		fields["beschreibung"] = draft.Description
	}
	if len(draft.Attributes) > 0 {
		fields["dynamischeFelder"] = draft.Attributes
	}
	return fields
}

// CreateAsset creates an asset upstream and returns the server-issued identity.
func (c *HTTPClient) CreateAsset(ctx context.Context, draft record.AssetDraft) (CreatedAsset, error) {
	token, authErr := c.sessionToken("create_asset")
	if authErr != nil {
		return CreatedAsset{}, authErr
	}

	var created CreatedAsset
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(draftRemoteFields(draft)).
		SetResult(&created).
		Post("/api/anlagen")
	if classified := c.checkResponse("create_asset", resp, err); classified != nil {
		return CreatedAsset{}, classified
	}

	if created.ID == "" {
		return CreatedAsset{}, NewError(KindRemote, "create_asset", resp.StatusCode(),
			errors.New("server response missing asset id"))
	}
	return created, nil
}

// AttachAssetToAssignment links a server-known asset into an assignment.
func (c *HTTPClient) AttachAssetToAssignment(ctx context.Context, assignmentID, assetID string) error {
	token, authErr := c.sessionToken("attach_asset")
	if authErr != nil {
		return authErr
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		Post(fmt.Sprintf("/api/auftraege/%s/anlagen/%s", assignmentID, assetID))
	if classified := c.checkResponse("attach_asset", resp, err); classified != nil {
		return classified
	}
	return nil
}

// UpdateAsset replays a field patch, already translated to the server's naming.
func (c *HTTPClient) UpdateAsset(ctx context.Context, assetID string, fields map[string]any) error {
	token, authErr := c.sessionToken("update_asset")
	if authErr != nil {
		return authErr
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(fields).
		Patch("/api/anlagen/" + assetID)
	if classified := c.checkResponse("update_asset", resp, err); classified != nil {
		return classified
	}
	return nil
}

// MarkProcessed reports an asset as inspected within an assignment.
func (c *HTTPClient) MarkProcessed(ctx context.Context, assignmentID, assetID string, report ProcessedReport) error {
	token, authErr := c.sessionToken("mark_processed")
	if authErr != nil {
		return authErr
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(report).
		Post(fmt.Sprintf("/api/auftraege/%s/anlagen/%s/bearbeitet", assignmentID, assetID))
	if classified := c.checkResponse("mark_processed", resp, err); classified != nil {
		return classified
	}
	return nil
}

// UpdateAssignmentStatus moves an assignment through its lifecycle upstream.
func (c *HTTPClient) UpdateAssignmentStatus(ctx context.Context, assignmentID string, status record.AssignmentStatus) error {
	token, authErr := c.sessionToken("update_assignment_status")
	if authErr != nil {
		return authErr
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"status": statusToRemote(status)}).
		Put(fmt.Sprintf("/api/auftraege/%s/status", assignmentID))
	if classified := c.checkResponse("update_assignment_status", resp, err); classified != nil {
		return classified
	}
	return nil
}

// FetchAssignmentsForCurrentUser pulls the worker's canonical assignment set. A
// body that fails to decode reads as "nothing assigned"; the server is
// authoritative for membership.
func (c *HTTPClient) FetchAssignmentsForCurrentUser(ctx context.Context) ([]record.Assignment, error) {
	token, authErr := c.sessionToken("fetch_assignments")
	if authErr != nil {
		return nil, authErr
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/api/auftraege/meine")
	if classified := c.checkResponse("fetch_assignments", resp, err); classified != nil {
		return nil, classified
	}

	assignments, decodeErr := decodeAssignments(resp.Body())
	if decodeErr != nil {
		c.logger.Warn("malformed assignment collection treated as empty", zap.Error(decodeErr))
		return []record.Assignment{}, nil
	}
	return assignments, nil
}

// FetchReferenceCodes pulls the full classification hierarchy.
func (c *HTTPClient) FetchReferenceCodes(ctx context.Context) ([]record.ReferenceCode, error) {
	token, authErr := c.sessionToken("fetch_reference_codes")
	if authErr != nil {
		return nil, authErr
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/api/aks-codes")
	if classified := c.checkResponse("fetch_reference_codes", resp, err); classified != nil {
		return nil, classified
	}

	codes, decodeErr := decodeReferenceCodes(resp.Body())
	if decodeErr != nil {
		c.logger.Warn("malformed reference code collection treated as empty", zap.Error(decodeErr))
		return []record.ReferenceCode{}, nil
	}
	return codes, nil
}
