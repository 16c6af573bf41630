package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fieldops/fieldsync/internal/blob"
	"github.com/fieldops/fieldsync/internal/db"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/remote"
)

// fakeObjects records uploads and can fail selected keys.
type fakeObjects struct {
	mu      sync.Mutex
	uploads []string
	failFor map[string]error

	// block, when non-nil, stalls uploads until closed.
	block chan struct{}
}

func (f *fakeObjects) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[key]; ok {
		return "", err
	}
	f.uploads = append(f.uploads, key)
	return "https://objects.test/" + key, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeObjects) uploadedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// fakeDocs is an upsert-keyed in-memory document store.
type fakeDocs struct {
	mu      sync.Mutex
	records map[string]*models.RemoteRecord
	order   []string // local ids in upsert order, including overwrites
	failFor map[string]error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{records: make(map[string]*models.RemoteRecord)}
}

func (f *fakeDocs) Upsert(ctx context.Context, rec *models.RemoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[rec.LocalID]; ok {
		return err
	}
	f.records[rec.LocalID] = rec
	f.order = append(f.order, rec.LocalID)
	return nil
}

func (f *fakeDocs) ListByProject(ctx context.Context, projectID string) ([]*models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []*models.RemoteRecord
	for _, rec := range f.records {
		if rec.Scope.ProjectID == projectID {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (f *fakeDocs) Subscribe(projectID string, cb func([]*models.RemoteRecord)) (func(), error) {
	return func() {}, nil
}

func (f *fakeDocs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

var _ remote.ObjectStore = (*fakeObjects)(nil)
var _ remote.DocumentStore = (*fakeDocs)(nil)

type engineFixture struct {
	store   *db.PendingStore
	arena   *blob.Arena
	objects *fakeObjects
	docs    *fakeDocs
	engine  *Engine
	clock   time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	arena, err := blob.NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	f := &engineFixture{
		store:   db.NewPendingStore(database),
		arena:   arena,
		objects: &fakeObjects{failFor: map[string]error{}},
		docs:    newFakeDocs(),
		clock:   time.UnixMilli(1700000000000),
	}
	f.engine = NewEngine(f.store, f.arena, f.objects, f.docs, DefaultConfig())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *engineFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// enqueuePhoto inserts a photo item with real blobs and returns its local id.
func (f *engineFixture) enqueuePhoto(t *testing.T, name string, enqueuedAt int64) string {
	t.Helper()

	payloadRef, err := f.arena.Store([]byte("payload-" + name))
	if err != nil {
		t.Fatalf("store payload: %v", err)
	}
	thumbRef, err := f.arena.Store([]byte("thumb-" + name))
	if err != nil {
		t.Fatalf("store thumb: %v", err)
	}

	localID, err := f.store.Insert(&models.PendingItem{
		Scope:      models.Scope{ProjectID: "proj-1", OrgID: "org-1", UserID: "user-1"},
		Kind:       models.KindPhoto,
		PayloadRef: payloadRef,
		ThumbRef:   thumbRef,
		Filename:   name,
		Metadata:   models.ItemMetadata{CapturedAt: enqueuedAt},
		EnqueuedAt: enqueuedAt,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return localID
}

func TestProcessQueueUploadsInEnqueueOrder(t *testing.T) {
	f := newFixture(t)

	base := f.clock.UnixMilli()
	id1 := f.enqueuePhoto(t, "one.jpg", base)
	id2 := f.enqueuePhoto(t, "two.jpg", base+1000)
	id3 := f.enqueuePhoto(t, "three.jpg", base+2000)

	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 3 || res.Failed != 0 {
		t.Fatalf("Expected {3 0}, got %+v", res)
	}

	if got := f.docs.order; len(got) != 3 ||
		got[0] != id1 || got[1] != id2 || got[2] != id3 {
		t.Errorf("Expected upsert order [%s %s %s], got %v", id1, id2, id3, got)
	}
}

func TestProcessQueuePartialFailure(t *testing.T) {
	f := newFixture(t)

	base := f.clock.UnixMilli()
	id1 := f.enqueuePhoto(t, "one.jpg", base)
	id2 := f.enqueuePhoto(t, "two.jpg", base+1000)
	id3 := f.enqueuePhoto(t, "three.jpg", base+2000)

	key2 := ObjectKey(models.Scope{ProjectID: "proj-1", OrgID: "org-1", UserID: "user-1"}, id2, "two.jpg")
	f.objects.failFor[key2] = errors.New("connection reset")

	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 2 || res.Failed != 1 {
		t.Fatalf("Expected {2 1}, got %+v", res)
	}

	// Items 1 and 3 are gone; item 2 is failed with one attempt recorded.
	for _, id := range []string{id1, id3} {
		if _, err := f.store.Get(id); err == nil {
			t.Errorf("Expected %s to be removed after completion", id)
		}
	}

	item, err := f.store.Get(id2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.SyncStatus != models.StatusFailed {
		t.Errorf("Expected failed, got %s", item.SyncStatus)
	}
	if item.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", item.Attempts)
	}
	if item.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestProcessQueueAtMostOnceRemoteWrite(t *testing.T) {
	f := newFixture(t)

	id := f.enqueuePhoto(t, "site.jpg", f.clock.UnixMilli())

	// Fail the document write first so the object upload succeeds but the
	// item stays pending.
	f.docs.failFor = map[string]error{id: errors.New("503")}
	res := f.engine.ProcessQueue(context.Background())
	if res.Failed != 1 {
		t.Fatalf("Expected 1 failure, got %+v", res)
	}

	// Heal the document store and retry past the cool-down, twice.
	f.docs.failFor = nil
	f.advance(time.Hour)
	f.engine.ProcessQueue(context.Background())
	f.advance(time.Hour)
	f.engine.ProcessQueue(context.Background())

	if n := f.docs.count(); n != 1 {
		t.Errorf("Expected exactly one remote record for %s, got %d", id, n)
	}

	// The object key is derived from the local id, so the retried upload
	// reused the same key rather than duplicating.
	keys := f.objects.uploadedKeys()
	seen := map[string]int{}
	for _, k := range keys {
		seen[k]++
	}
	for k, n := range seen {
		if n > 2 {
			t.Errorf("Key %s uploaded %d times without overwrite semantics being enough", k, n)
		}
	}
}

func TestProcessQueueRespectsBackoff(t *testing.T) {
	f := newFixture(t)

	id := f.enqueuePhoto(t, "flaky.jpg", f.clock.UnixMilli())
	key := ObjectKey(models.Scope{ProjectID: "proj-1", OrgID: "org-1", UserID: "user-1"}, id, "flaky.jpg")
	f.objects.failFor[key] = errors.New("timeout")

	// Two failing drains, each past the previous cool-down.
	f.engine.ProcessQueue(context.Background())
	f.advance(time.Hour)
	f.engine.ProcessQueue(context.Background())

	item, _ := f.store.Get(id)
	if item.Attempts != 2 {
		t.Fatalf("Expected 2 attempts, got %d", item.Attempts)
	}

	// Immediately after the second failure the item is inside its
	// cool-down (base*2 = 60s) and must not be retried.
	delete(f.objects.failFor, key)
	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 0 || res.Failed != 0 {
		t.Fatalf("Expected no-op inside cool-down, got %+v", res)
	}

	// Once the cool-down elapses the item is retried and succeeds.
	f.advance(2 * time.Minute)
	res = f.engine.ProcessQueue(context.Background())
	if res.Successful != 1 {
		t.Fatalf("Expected retry after cool-down, got %+v", res)
	}
}

func TestProcessQueueHonorsRetryCeiling(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.MaxAttempts = 2

	id := f.enqueuePhoto(t, "dead.jpg", f.clock.UnixMilli())
	key := ObjectKey(models.Scope{ProjectID: "proj-1", OrgID: "org-1", UserID: "user-1"}, id, "dead.jpg")
	f.objects.failFor[key] = errors.New("permanent")

	for i := 0; i < 4; i++ {
		f.engine.ProcessQueue(context.Background())
		f.advance(24 * time.Hour)
	}

	item, err := f.store.Get(id)
	if err != nil {
		t.Fatalf("Exhausted item must remain visible: %v", err)
	}
	if item.Attempts != 2 {
		t.Errorf("Expected attempts capped at 2, got %d", item.Attempts)
	}
	if item.SyncStatus != models.StatusFailed {
		t.Errorf("Expected failed, got %s", item.SyncStatus)
	}
}

func TestProcessQueueRecoversStaleUploads(t *testing.T) {
	f := newFixture(t)

	id := f.enqueuePhoto(t, "stuck.jpg", f.clock.UnixMilli())

	// Simulate a process killed mid-upload: claimed long ago, never
	// transitioned out.
	if _, err := f.store.ClaimForUpload(id, f.clock.Add(-time.Hour)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 1 {
		t.Fatalf("Expected stale item to be recovered and synced, got %+v", res)
	}
	if _, err := f.store.Get(id); err == nil {
		t.Error("Expected recovered item to complete and be removed")
	}
}

func TestProcessQueueLeavesFreshUploadingAlone(t *testing.T) {
	f := newFixture(t)

	id := f.enqueuePhoto(t, "inflight.jpg", f.clock.UnixMilli())
	if _, err := f.store.ClaimForUpload(id, f.clock); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 0 || res.Failed != 0 {
		t.Fatalf("Expected fresh uploading item to be skipped, got %+v", res)
	}

	item, _ := f.store.Get(id)
	if item.SyncStatus != models.StatusUploading {
		t.Errorf("Expected uploading preserved, got %s", item.SyncStatus)
	}
}

func TestProcessQueueSingleFlight(t *testing.T) {
	f := newFixture(t)

	f.enqueuePhoto(t, "slow.jpg", f.clock.UnixMilli())
	f.objects.block = make(chan struct{})

	done := make(chan Result, 1)
	go func() {
		done <- f.engine.ProcessQueue(context.Background())
	}()

	// Give the drain time to reach the blocking upload, then call again.
	time.Sleep(50 * time.Millisecond)
	second := f.engine.ProcessQueue(context.Background())
	if second.Successful != 0 || second.Failed != 0 {
		t.Errorf("Expected concurrent call to be a no-op, got %+v", second)
	}

	close(f.objects.block)
	first := <-done
	if first.Successful != 1 {
		t.Errorf("Expected first drain to finish its work, got %+v", first)
	}
}

func TestProcessQueueSyncsStructuredItems(t *testing.T) {
	f := newFixture(t)

	fields, _ := json.Marshal(map[string]string{"status": "done"})
	localID, err := f.store.Insert(&models.PendingItem{
		Scope:      models.Scope{ProjectID: "proj-1", OrgID: "org-1", UserID: "user-1"},
		Kind:       models.KindTaskStatus,
		Fields:     fields,
		Metadata:   models.ItemMetadata{CapturedAt: f.clock.UnixMilli(), TaskID: "task-9"},
		EnqueuedAt: f.clock.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 1 {
		t.Fatalf("Expected structured item to sync, got %+v", res)
	}

	// No object uploads for structured kinds.
	if keys := f.objects.uploadedKeys(); len(keys) != 0 {
		t.Errorf("Expected no object uploads, got %v", keys)
	}

	rec := f.docs.records[localID]
	if rec == nil {
		t.Fatal("Expected a remote record")
	}
	if rec.Kind != models.KindTaskStatus {
		t.Errorf("Expected task_status record, got %s", rec.Kind)
	}
	if string(rec.Fields) != string(fields) {
		t.Errorf("Fields not carried: %s", rec.Fields)
	}
}

func TestProcessQueueCleansBlobsOnCompletion(t *testing.T) {
	f := newFixture(t)

	payloadRef := blob.Ref([]byte("payload-clean.jpg"))
	f.enqueuePhoto(t, "clean.jpg", f.clock.UnixMilli())

	res := f.engine.ProcessQueue(context.Background())
	if res.Successful != 1 {
		t.Fatalf("Expected success, got %+v", res)
	}
	if f.arena.Exists(payloadRef) {
		t.Error("Expected payload blob removed after completion")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	e := &Engine{cfg: Config{BackoffBase: 30 * time.Second, BackoffCap: time.Hour}}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{10, time.Hour},
	}
	for _, tc := range cases {
		if got := e.backoff(tc.attempts); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestObjectKeyIsStable(t *testing.T) {
	scope := models.Scope{ProjectID: "p", OrgID: "o", UserID: "u"}

	k1 := ObjectKey(scope, "local-1", "a.jpg")
	k2 := ObjectKey(scope, "local-1", "a.jpg")
	if k1 != k2 {
		t.Error("Expected stable keys for identical input")
	}
	if k1 != "o/p/local-1/a.jpg" {
		t.Errorf("Unexpected key %s", k1)
	}

	if ObjectKey(scope, "local-1", "") != "o/p/local-1/payload.jpg" {
		t.Error("Expected default filename")
	}
}

func TestProcessQueueNeverPanicsOnMissingBlob(t *testing.T) {
	f := newFixture(t)

	localID, err := f.store.Insert(&models.PendingItem{
		Scope:      models.Scope{ProjectID: "proj-1", OrgID: "org-1", UserID: "user-1"},
		Kind:       models.KindPhoto,
		PayloadRef: fmt.Sprintf("%064d", 0),
		Filename:   "ghost.jpg",
		Metadata:   models.ItemMetadata{CapturedAt: f.clock.UnixMilli()},
		EnqueuedAt: f.clock.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	res := f.engine.ProcessQueue(context.Background())
	if res.Failed != 1 {
		t.Fatalf("Expected missing blob to fail the item, got %+v", res)
	}

	item, _ := f.store.Get(localID)
	if item.SyncStatus != models.StatusFailed {
		t.Errorf("Expected failed, got %s", item.SyncStatus)
	}
}
