package syncer

import (
	"context"
	"fmt"
	"sync"
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

type stubConnectivity struct {
	online bool
}

func (s *stubConnectivity) IsOnline(context.Context) bool { return s.online }

type updateCall struct {
	assetID string
	fields  map[string]any
}

type processedCall struct {
	assignmentID string
	assetID      string
	report       remote.ProcessedReport
}

type statusCall struct {
	assignmentID string
	status       record.AssignmentStatus
}

// fakeRemote is a scriptable in-memory stand-in for the upstream API. Error
// fields, when set, are returned for the matching call.
type fakeRemote struct {
	mu sync.Mutex

	pingErr      error
	createErr    error
	attachErr    error
	updateErrs   map[string]error
	processedErr error
	statusErr    error
	fetchErr     error

	assignments []record.Assignment
	codes       []record.ReferenceCode

	token          string
	nextAssetID    int
	createCalls    []record.AssetDraft
	attachCalls    [][2]string
	updateCalls    []updateCall
	processedCalls []processedCall
	statusCalls    []statusCall
	fetchCount     int

	// blockUpdates, when set, holds every UpdateAsset call until released;
	// updateEntered signals that a call reached the block.
	blockUpdates  chan struct{}
	updateEntered chan struct{}
}

func (f *fakeRemote) Ping(context.Context) error { return f.pingErr }

func (f *fakeRemote) Login(_ context.Context, credentials remote.Credentials) (remote.Session, error) {
	return remote.Session{AccessToken: "token-" + credentials.Username, UserName: credentials.Username}, nil
}

func (f *fakeRemote) Logout(context.Context) error { return nil }

func (f *fakeRemote) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeRemote) CreateAsset(_ context.Context, draft record.AssetDraft) (remote.CreatedAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return remote.CreatedAsset{}, f.createErr
	}
	f.nextAssetID++
	f.createCalls = append(f.createCalls, draft)
	return remote.CreatedAsset{
		ID:          fmt.Sprintf("asset-server-%d", f.nextAssetID),
		AssetNumber: fmt.Sprintf("AN-%04d", f.nextAssetID),
	}, nil
}

func (f *fakeRemote) AttachAssetToAssignment(_ context.Context, assignmentID, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attachCalls = append(f.attachCalls, [2]string{assignmentID, assetID})
	return nil
}

func (f *fakeRemote) UpdateAsset(_ context.Context, assetID string, fields map[string]any) error {
	if f.blockUpdates != nil {
		if f.updateEntered != nil {
			f.updateEntered <- struct{}{}
		}
		<-f.blockUpdates
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.updateErrs[assetID]; ok {
		return err
	}
	f.updateCalls = append(f.updateCalls, updateCall{assetID: assetID, fields: fields})
	return nil
}

func (f *fakeRemote) MarkProcessed(_ context.Context, assignmentID, assetID string, report remote.ProcessedReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processedErr != nil {
		return f.processedErr
	}
	f.processedCalls = append(f.processedCalls, processedCall{assignmentID: assignmentID, assetID: assetID, report: report})
	return nil
}

func (f *fakeRemote) UpdateAssignmentStatus(_ context.Context, assignmentID string, status record.AssignmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusCalls = append(f.statusCalls, statusCall{assignmentID: assignmentID, status: status})
	return nil
}

func (f *fakeRemote) FetchAssignmentsForCurrentUser(context.Context) ([]record.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.fetchCount++
	return f.assignments, nil
}

func (f *fakeRemote) FetchReferenceCodes(context.Context) ([]record.ReferenceCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.codes, nil
}

func (f *fakeRemote) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount
}

func newTestCoordinator(t *testing.T, store *localstore.Store, fake *fakeRemote, online bool) *Coordinator {
	t.Helper()
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Store:        store,
		Remote:       fake,
		Connectivity: &stubConnectivity{online: online},
		Clock:        func() time.Time { return time.Unix(1700000100, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}
	return coordinator
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

func testLink(linkID, assignmentID, assetID string) record.AssetLink {
	return record.AssetLink{
		ID:           linkID,
		AssignmentID: assignmentID,
		AssetID:      assetID,
		Visible:      true,
		Name:         "air handler",
	}
}
