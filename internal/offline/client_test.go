package offline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/wartungswerk/fieldsync/internal/database"
	"github.com/wartungswerk/fieldsync/internal/localstore"
	"github.com/wartungswerk/fieldsync/internal/record"
	"github.com/wartungswerk/fieldsync/internal/remote"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *localstore.Store {
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

	store, err := localstore.NewStore(localstore.StoreConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

// fakeRemote simulates the upstream API with per-method scripted errors.
type fakeRemote struct {
	token     string
	loginErr  error
	logoutErr error
	createErr error
	attachErr error
	updateErr error
	markErr   error
	statusErr error

	updateCalls int
	markCalls   int
	statusCalls int
	createCalls int
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

func (f *fakeRemote) Login(_ context.Context, credentials remote.Credentials) (remote.Session, error) {
	if f.loginErr != nil {
		return remote.Session{}, f.loginErr
	}
	return remote.Session{AccessToken: "token-1", UserName: credentials.Username}, nil
}

func (f *fakeRemote) Logout(context.Context) error { return f.logoutErr }

func (f *fakeRemote) SetToken(token string) { f.token = token }

func (f *fakeRemote) CreateAsset(context.Context, record.AssetDraft) (remote.CreatedAsset, error) {
	if f.createErr != nil {
		return remote.CreatedAsset{}, f.createErr
	}
	f.createCalls++
	return remote.CreatedAsset{ID: "asset-server-1", AssetNumber: "AN-0001"}, nil
}

func (f *fakeRemote) AttachAssetToAssignment(context.Context, string, string) error {
	return f.attachErr
}

func (f *fakeRemote) UpdateAsset(context.Context, string, map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateCalls++
	return nil
}

func (f *fakeRemote) MarkProcessed(context.Context, string, string, remote.ProcessedReport) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.markCalls++
	return nil
}

func (f *fakeRemote) UpdateAssignmentStatus(context.Context, string, record.AssignmentStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusCalls++
	return nil
}

func (f *fakeRemote) FetchAssignmentsForCurrentUser(context.Context) ([]record.Assignment, error) {
	return nil, nil
}

func (f *fakeRemote) FetchReferenceCodes(context.Context) ([]record.ReferenceCode, error) {
	return nil, nil
}

func newTestClient(t *testing.T, store *localstore.Store, fake *fakeRemote) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Remote: fake,
		Store:  store,
		Clock:  func() time.Time { return time.Unix(1700000200, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client
}

func seedAssignment(t *testing.T, store *localstore.Store, assignmentID string, links ...record.AssetLink) {
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

func transportError() error {
	return remote.NewError(remote.KindTransport, "test", 0, errors.New("request timed out"))
}

func TestLoginPersistsCredentials(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{}
	client := newTestClient(t, store, fake)
	ctx := context.Background()

	session, err := client.Login(ctx, remote.Credentials{Username: "vogel", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.UserName != "vogel" {
		t.Fatalf("unexpected session: %#v", session)
	}

	credentials, err := store.Credentials(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credentials.AccessToken != "token-1" {
		t.Fatalf("credentials must persist: %#v", credentials)
	}
}

func TestLoginFailureDoesNotPersistAnything(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{loginErr: remote.NewError(remote.KindAuth, "login", 401, errors.New("bad password"))}
	client := newTestClient(t, store, fake)
	ctx := context.Background()

	if _, err := client.Login(ctx, remote.Credentials{Username: "vogel"}); !remote.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := store.Credentials(ctx); !errors.Is(err, localstore.ErrNotCached) {
		t.Fatalf("no credentials expected, got %v", err)
	}
}

func TestLogoutClearsCredentialsEvenWhenRemoteUnreachable(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{logoutErr: remote.NewError(remote.KindOffline, "logout", 0, errors.New("unreachable"))}
	client := newTestClient(t, store, fake)
	ctx := context.Background()

	if err := store.SaveCredentials(ctx, "token-1", "vogel"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Credentials(ctx); !errors.Is(err, localstore.ErrNotCached) {
		t.Fatalf("credentials must be gone, got %v", err)
	}
}

func TestRestoreSessionInstallsPersistedToken(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{}
	client := newTestClient(t, store, fake)
	ctx := context.Background()

	if err := client.RestoreSession(ctx); err != nil {
		t.Fatalf("restore without credentials must be a no-op: %v", err)
	}

	if err := store.SaveCredentials(ctx, "token-persisted", "vogel"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.RestoreSession(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.token != "token-persisted" {
		t.Fatalf("token must be reinstalled, got %q", fake.token)
	}
}

func TestUpdateAssetOnlineConfirmsWithoutQueueing(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1", record.AssetLink{
		ID: "link-1", AssignmentID: "assignment-1", AssetID: "asset-1", Name: "air handler",
	})

	notes := "confirmed online"
	if err := client.UpdateAsset(ctx, mustAssetID(t, "asset-1"), record.AssetPatch{Notes: &notes}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.updateCalls != 1 {
		t.Fatalf("expected one remote update, got %d", fake.updateCalls)
	}

	link, err := store.GetAssetLink(ctx, "asset-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.Notes != "confirmed online" {
		t.Fatalf("confirmed result must land in the cache: %#v", link)
	}
	if link.LocalChanges {
		t.Fatalf("a confirmed write must not read as dirty")
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("nothing should be queued, got %d", count)
	}
}

func TestUpdateAssetTransportFailureStagesLocally(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{updateErr: transportError()}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1", record.AssetLink{
		ID: "link-1", AssignmentID: "assignment-1", AssetID: "asset-1", Name: "air handler",
	})

	notes := "staged"
	if err := client.UpdateAsset(ctx, mustAssetID(t, "asset-1"), record.AssetPatch{Notes: &notes}); err != nil {
		t.Fatalf("fallback must swallow the transport failure: %v", err)
	}

	link, err := store.GetAssetLink(ctx, "asset-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.Notes != "staged" || !link.LocalChanges {
		t.Fatalf("patch must apply optimistically: %#v", link)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one queued item, got %d", count)
	}
}

func TestUpdateAssetServerRejectionSurfacesToCaller(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{updateErr: remote.NewError(remote.KindRemote, "update asset", 422, errors.New("validation failed"))}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1", record.AssetLink{
		ID: "link-1", AssignmentID: "assignment-1", AssetID: "asset-1", Name: "air handler",
	})

	notes := "rejected"
	err := client.UpdateAsset(ctx, mustAssetID(t, "asset-1"), record.AssetPatch{Notes: &notes})
	if !remote.IsRemote(err) {
		t.Fatalf("a business rejection must reach the caller, got %v", err)
	}
	count, countErr := store.PendingCount(ctx)
	if countErr != nil {
		t.Fatalf("unexpected error: %v", countErr)
	}
	if count != 0 {
		t.Fatalf("rejections must never be queued, got %d", count)
	}
}

func TestUpdateAssetAgainstTempIDStaysLocal(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")
	draft := record.AssetDraft{Name: "new pump", Visible: true}
	if err := store.CreateAssetLocally(ctx, "local-temp-1", mustAssignmentID(t, "assignment-1"), draft); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	notes := "painted"
	if err := client.UpdateAsset(ctx, mustAssetID(t, "local-temp-1"), record.AssetPatch{Notes: &notes}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.updateCalls != 0 {
		t.Fatalf("temp-id edits must never hit the network, got %d calls", fake.updateCalls)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected create plus update queued, got %d", count)
	}
}

func TestCreateAssetOnlineCachesServerIdentity(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")

	draft := record.AssetDraft{Name: "new pump", Visible: true, Attributes: map[string]string{"baujahr": "2020"}}
	link, err := client.CreateAsset(ctx, mustAssignmentID(t, "assignment-1"), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.AssetID != "asset-server-1" || link.AssetNumber != "AN-0001" {
		t.Fatalf("server identity must be used immediately: %#v", link)
	}
	if record.IsTempID(link.AssetID) {
		t.Fatalf("online creation must not issue a temp id")
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("nothing should be queued, got %d", count)
	}
}

func TestCreateAssetOfflineIssuesTempIdentity(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{createErr: transportError()}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")

	draft := record.AssetDraft{Name: "new pump", Visible: true}
	link, err := client.CreateAsset(ctx, mustAssignmentID(t, "assignment-1"), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !record.IsTempID(link.AssetID) || !link.IsNew {
		t.Fatalf("offline creation must issue a temp id: %#v", link)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one queued creation, got %d", count)
	}
}

func TestCreateAssetAttachFailureStagesLinkage(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{attachErr: transportError()}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")

	draft := record.AssetDraft{Name: "new pump", Visible: true}
	link, err := client.CreateAsset(ctx, mustAssignmentID(t, "assignment-1"), draft)
	if err != nil {
		t.Fatalf("fallback must swallow the transport failure: %v", err)
	}
	if fake.createCalls != 1 {
		t.Fatalf("expected one creation, got %d", fake.createCalls)
	}
	if link.AssetID != "asset-server-1" || record.IsTempID(link.AssetID) {
		t.Fatalf("the server identity must be kept: %#v", link)
	}

	cached, err := store.GetAssetLink(ctx, "asset-server-1")
	if err != nil {
		t.Fatalf("the confirmed creation must land in the cache: %v", err)
	}
	if !cached.LocalChanges || cached.IsNew {
		t.Fatalf("only the linkage is unconfirmed: %#v", cached)
	}

	items, err := store.QueueItems(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Kind != record.OperationKindAttachAsset {
		t.Fatalf("the missing linkage must be queued, not the creation: %#v", items)
	}
}

func TestCreateAssetAttachRejectionSurfacesToCaller(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{attachErr: remote.NewError(remote.KindRemote, "attach asset", 422, errors.New("assignment closed"))}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")

	draft := record.AssetDraft{Name: "new pump", Visible: true}
	if _, err := client.CreateAsset(ctx, mustAssignmentID(t, "assignment-1"), draft); !remote.IsRemote(err) {
		t.Fatalf("a business rejection must reach the caller, got %v", err)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejections must never be queued, got %d", count)
	}
}

func TestMarkProcessedFallsBackWhenUnreachable(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{markErr: transportError()}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1", record.AssetLink{
		ID: "link-1", AssignmentID: "assignment-1", AssetID: "asset-1", Name: "air handler",
	})

	if err := client.MarkProcessed(ctx, mustAssignmentID(t, "assignment-1"), mustAssetID(t, "asset-1"), "replaced filter"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	link, err := store.GetAssetLink(ctx, "asset-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !link.Processed || link.Notes != "replaced filter" {
		t.Fatalf("processed mark must apply optimistically: %#v", link)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one queued report, got %d", count)
	}
}

func TestSetAssignmentStatusOnlineDoesNotQueue(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")

	if err := client.SetAssignmentStatus(ctx, mustAssignmentID(t, "assignment-1"), record.AssignmentStatusInProgress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.statusCalls != 1 {
		t.Fatalf("expected one remote call, got %d", fake.statusCalls)
	}

	assignment, err := store.GetAssignment(ctx, "assignment-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assignment.Status != record.AssignmentStatusInProgress || assignment.HasLocalChanges {
		t.Fatalf("confirmed status must land clean: %#v", assignment)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("nothing should be queued, got %d", count)
	}
}

func TestSetAssignmentStatusFallsBackWhenUnreachable(t *testing.T) {
	store := openTestStore(t)
	fake := &fakeRemote{statusErr: transportError()}
	client := newTestClient(t, store, fake)
	ctx := context.Background()
	seedAssignment(t, store, "assignment-1")

	if err := client.SetAssignmentStatus(ctx, mustAssignmentID(t, "assignment-1"), record.AssignmentStatusPaused); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assignment, err := store.GetAssignment(ctx, "assignment-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assignment.Status != record.AssignmentStatusPaused || !assignment.HasLocalChanges {
		t.Fatalf("staged status must read dirty: %#v", assignment)
	}
	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one queued transition, got %d", count)
	}
}
