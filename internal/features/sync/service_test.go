package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/cache"
	common_models "go-crmsync/internal/common/models"
	"go-crmsync/internal/config"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/webhook"
	"go-crmsync/internal/remote"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeSyncRepo struct {
	mu      stdsync.Mutex
	passes  map[string]*SyncPass
	cursors map[string]*SyncCursor
	records map[string]*LocalRecord // module + "/" + recordID
	schemas map[string]*ModuleSchema
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{
		passes:  make(map[string]*SyncPass),
		cursors: make(map[string]*SyncCursor),
		records: make(map[string]*LocalRecord),
		schemas: make(map[string]*ModuleSchema),
	}
}

func recordKey(module, recordID string) string { return module + "/" + recordID }

func (r *fakeSyncRepo) CreatePass(ctx context.Context, pass *SyncPass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *pass
	r.passes[pass.ID] = &copied
	return nil
}

func (r *fakeSyncRepo) UpdatePass(ctx context.Context, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.passes[id]
	if !ok {
		return fmt.Errorf("pass not found")
	}
	if v, ok := updates["status"]; ok {
		p.Status = v.(PassStatus)
	}
	if v, ok := updates["error"]; ok {
		p.Error = v.(string)
	}
	if v, ok := updates["records_pulled"]; ok {
		p.RecordsPulled = v.(int)
	}
	if v, ok := updates["records_pushed"]; ok {
		p.RecordsPushed = v.(int)
	}
	if v, ok := updates["conflicts_found"]; ok {
		p.ConflictsFound = v.(int)
	}
	return nil
}

func (r *fakeSyncRepo) GetPass(ctx context.Context, id string) (*SyncPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.passes[id]
	if !ok {
		return nil, fmt.Errorf("pass not found")
	}
	copied := *p
	return &copied, nil
}

func (r *fakeSyncRepo) ListPasses(ctx context.Context, filter map[string]interface{}, limit int64) ([]SyncPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SyncPass
	for _, p := range r.passes {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeSyncRepo) GetCursor(ctx context.Context, module string) (*SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[module]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeSyncRepo) SaveCursor(ctx context.Context, cursor *SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *cursor
	r.cursors[cursor.Module] = &copied
	return nil
}

func (r *fakeSyncRepo) ListCursors(ctx context.Context) ([]SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SyncCursor
	for _, c := range r.cursors {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeSyncRepo) GetLocalRecord(ctx context.Context, module, recordID string) (*LocalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey(module, recordID)]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (r *fakeSyncRepo) UpsertLocalRecord(ctx context.Context, record *LocalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.SyncedAt = time.Now()
	copied := *record
	r.records[recordKey(record.Module, record.RecordID)] = &copied
	return nil
}

func (r *fakeSyncRepo) DeleteLocalRecord(ctx context.Context, module, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, recordKey(module, recordID))
	return nil
}

func (r *fakeSyncRepo) ListLocalChangedSince(ctx context.Context, module string, since time.Time) ([]LocalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LocalRecord
	for _, rec := range r.records {
		if rec.Module == module && rec.ModifiedAt.After(since) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeSyncRepo) ListLocalRecords(ctx context.Context, module string, limit int64) ([]LocalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LocalRecord
	for _, rec := range r.records {
		if rec.Module == module {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeSyncRepo) CountLocalRecords(ctx context.Context, module string) (int64, error) {
	recs, _ := r.ListLocalRecords(ctx, module, 0)
	return int64(len(recs)), nil
}

func (r *fakeSyncRepo) GetSchema(ctx context.Context, module string) (*ModuleSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schemas[module]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (r *fakeSyncRepo) SaveSchema(ctx context.Context, schema *ModuleSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Module] = schema
	return nil
}

func (r *fakeSyncRepo) localFields(module, recordID string) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[recordKey(module, recordID)]; ok {
		return rec.Fields
	}
	return nil
}

// fakeRemote serves canned deltas and records what got pushed.
type fakeRemote struct {
	mu         stdsync.Mutex
	changed    map[string][]remote.Record
	deleted    map[string][]string
	listErr    error
	lastSince  time.Time
	upserted   []remote.Record
	getRecords map[string]*remote.Record
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		changed:    make(map[string][]remote.Record),
		deleted:    make(map[string][]string),
		getRecords: make(map[string]*remote.Record),
	}
}

func (f *fakeRemote) ListChangedRecords(ctx context.Context, module string, since time.Time) ([]remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.lastSince = since
	return f.changed[module], nil
}

func (f *fakeRemote) ListDeletedIDs(ctx context.Context, module string, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[module], nil
}

func (f *fakeRemote) GetRecord(ctx context.Context, module, id string) (*remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.getRecords[recordKey(module, id)]; ok {
		return rec, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "record not found")
}

func (f *fakeRemote) UpsertRecord(ctx context.Context, module string, rec remote.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeRemote) DeleteRecord(ctx context.Context, module, id string) error { return nil }

func (f *fakeRemote) RegisterWebhook(ctx context.Context, sub remote.Subscription) error {
	return nil
}

// fakeConflictStore backs a real conflict service in these tests.
type fakeConflictStore struct {
	mu      stdsync.Mutex
	records map[string]*conflict.ConflictRecord
}

func newFakeConflictStore() *fakeConflictStore {
	return &fakeConflictStore{records: make(map[string]*conflict.ConflictRecord)}
}

func (r *fakeConflictStore) Create(ctx context.Context, record *conflict.ConflictRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	r.records[record.ID.Hex()] = record
	return nil
}

func (r *fakeConflictStore) Get(ctx context.Context, id string) (*conflict.ConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return rec, nil
}

func (r *fakeConflictStore) FindPending(ctx context.Context, module, recordID string) (*conflict.ConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Module == module && rec.RecordID == recordID && rec.Status == conflict.StatusPending {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeConflictStore) List(ctx context.Context, filter map[string]interface{}, limit int64) ([]conflict.ConflictRecord, error) {
	return nil, nil
}

func (r *fakeConflictStore) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return nil
}

func syncTestConfig() *config.Config {
	return &config.Config{
		SyncModules:    []string{"Accounts", "Contacts"},
		ConflictPolicy: "merge",
		SyncLockTTL:    time.Minute,
	}
}

func newSyncTestService(cfg *config.Config, repo SyncRepository, rc remote.Client, c cache.Cache) *SyncServiceImpl {
	d := events.NewDispatcher(zap.NewNop())
	d.Start()
	conflicts := conflict.NewConflictService(newFakeConflictStore(), d, zap.NewNop())
	return NewSyncService(cfg, repo, rc, conflicts, c, d, zap.NewNop())
}

func TestTriggerSyncRejectsConcurrentSameModule(t *testing.T) {
	mc := cache.NewMemoryCache()
	svc := newSyncTestService(syncTestConfig(), newFakeSyncRepo(), newFakeRemote(), mc)
	ctx := context.Background()

	// Simulate a pass already holding the module lock
	if ok, _ := mc.AcquireLock(ctx, "sync:lock:Accounts", "other-pass", time.Minute); !ok {
		t.Fatal("setup lock not acquired")
	}

	_, err := svc.TriggerSync(ctx, []string{"Accounts"}, common_models.DirectionPull, false, TriggerManual)
	if apperrors.CodeOf(err) != apperrors.CodeConflictDetected {
		t.Errorf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeConflictDetected)
	}

	// A different module is unaffected
	passes, err := svc.TriggerSync(ctx, []string{"Contacts"}, common_models.DirectionPull, false, TriggerManual)
	if err != nil {
		t.Fatalf("TriggerSync(Contacts) error = %v", err)
	}
	if len(passes) != 1 || passes[0].Status != PassCompleted {
		t.Errorf("passes = %+v", passes)
	}
}

func TestPullAppliesRemoteChanges(t *testing.T) {
	repo := newFakeSyncRepo()
	rc := newFakeRemote()
	rc.changed["Accounts"] = []remote.Record{
		{ID: "1", Module: "Accounts", Fields: map[string]interface{}{"name": "Acme"}, ModifiedAt: time.Now()},
		{ID: "2", Module: "Accounts", Fields: map[string]interface{}{"name": "Globex"}, ModifiedAt: time.Now()},
	}
	rc.deleted["Accounts"] = []string{"3"}
	repo.UpsertLocalRecord(context.Background(), &LocalRecord{Module: "Accounts", RecordID: "3", Fields: map[string]interface{}{"name": "Initech"}})

	svc := newSyncTestService(syncTestConfig(), repo, rc, cache.NewMemoryCache())

	passes, err := svc.TriggerSync(context.Background(), []string{"Accounts"}, common_models.DirectionPull, false, TriggerManual)
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	pass := passes[0]

	if pass.Status != PassCompleted || !pass.Full {
		t.Errorf("pass = %+v, want completed full pass", pass)
	}
	if pass.RecordsPulled != 3 {
		t.Errorf("records pulled = %d, want 3", pass.RecordsPulled)
	}
	if repo.localFields("Accounts", "1") == nil || repo.localFields("Accounts", "2") == nil {
		t.Error("pulled records not stored locally")
	}
	if repo.localFields("Accounts", "3") != nil {
		t.Error("deleted record still present locally")
	}

	cursor, _ := repo.GetCursor(context.Background(), "Accounts")
	if cursor == nil || cursor.BaselineID != pass.ID {
		t.Errorf("cursor = %+v, want baseline %s", cursor, pass.ID)
	}
}

func TestPullResolvesConflicts(t *testing.T) {
	repo := newFakeSyncRepo()
	rc := newFakeRemote()

	older := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	rc.changed["Accounts"] = []remote.Record{
		{ID: "1", Module: "Accounts", Fields: map[string]interface{}{"name": "Acme Corp", "modified_at": newer.Format(time.RFC3339)}, ModifiedAt: newer},
	}
	repo.UpsertLocalRecord(context.Background(), &LocalRecord{
		Module:   "Accounts",
		RecordID: "1",
		Fields:   map[string]interface{}{"name": "Acme", "phone": "555-0100", "modified_at": older.Format(time.RFC3339)},
	})

	svc := newSyncTestService(syncTestConfig(), repo, rc, cache.NewMemoryCache())

	passes, err := svc.TriggerSync(context.Background(), []string{"Accounts"}, common_models.DirectionPull, false, TriggerManual)
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	if passes[0].ConflictsFound != 1 {
		t.Errorf("conflicts found = %d, want 1", passes[0].ConflictsFound)
	}

	fields := repo.localFields("Accounts", "1")
	if fields["name"] != "Acme Corp" {
		t.Errorf("merged name = %v, want remote (newer) value", fields["name"])
	}
	if fields["phone"] != "555-0100" {
		t.Errorf("merge lost local-only field: %v", fields)
	}
}

func TestRemoteFailureLeavesCursorUntouched(t *testing.T) {
	repo := newFakeSyncRepo()
	rc := newFakeRemote()
	rc.listErr = apperrors.New(apperrors.CodeRemoteUnavailable, "remote responded 502")

	svc := newSyncTestService(syncTestConfig(), repo, rc, cache.NewMemoryCache())

	_, err := svc.TriggerSync(context.Background(), []string{"Accounts"}, common_models.DirectionPull, false, TriggerManual)
	if err == nil {
		t.Fatal("TriggerSync() succeeded despite remote failure")
	}
	if !apperrors.Retryable(err) {
		t.Errorf("remote failure not retryable: %v", err)
	}

	cursor, _ := repo.GetCursor(context.Background(), "Accounts")
	if cursor != nil {
		t.Errorf("cursor advanced on failed pass: %+v", cursor)
	}
	if len(repo.records) != 0 {
		t.Error("local store mutated on failed pass")
	}

	passes, _ := repo.ListPasses(context.Background(), nil, 0)
	if len(passes) != 1 || passes[0].Status != PassFailed {
		t.Errorf("passes = %+v, want one failed pass", passes)
	}
}

func TestIncrementalPassUsesCursor(t *testing.T) {
	repo := newFakeSyncRepo()
	rc := newFakeRemote()
	baseline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.SaveCursor(context.Background(), &SyncCursor{
		Module:     "Accounts",
		LastPassAt: baseline,
		BaselineID: "full-pass-1",
		BaselineAt: baseline,
	})

	svc := newSyncTestService(syncTestConfig(), repo, rc, cache.NewMemoryCache())

	passes, err := svc.TriggerSync(context.Background(), []string{"Accounts"}, common_models.DirectionPull, false, TriggerManual)
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	if passes[0].Full {
		t.Error("pass ran full despite existing baseline")
	}
	if !rc.lastSince.Equal(baseline) {
		t.Errorf("since = %v, want %v", rc.lastSince, baseline)
	}

	cursor, _ := repo.GetCursor(context.Background(), "Accounts")
	if cursor.BaselineID != "full-pass-1" {
		t.Errorf("incremental pass replaced baseline: %+v", cursor)
	}
	if !cursor.LastPassAt.After(baseline) {
		t.Errorf("watermark not advanced: %+v", cursor)
	}
}

func TestPushSendsLocalChanges(t *testing.T) {
	repo := newFakeSyncRepo()
	rc := newFakeRemote()
	repo.UpsertLocalRecord(context.Background(), &LocalRecord{
		Module:     "Accounts",
		RecordID:   "1",
		Fields:     map[string]interface{}{"name": "Acme"},
		ModifiedAt: time.Now(),
	})

	svc := newSyncTestService(syncTestConfig(), repo, rc, cache.NewMemoryCache())

	passes, err := svc.TriggerSync(context.Background(), []string{"Accounts"}, common_models.DirectionPush, false, TriggerManual)
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	if passes[0].RecordsPushed != 1 {
		t.Errorf("records pushed = %d, want 1", passes[0].RecordsPushed)
	}
	if len(rc.upserted) != 1 || rc.upserted[0].ID != "1" {
		t.Errorf("upserted = %+v", rc.upserted)
	}
}

func TestApplyChangeEvent(t *testing.T) {
	repo := newFakeSyncRepo()
	svc := newSyncTestService(syncTestConfig(), repo, newFakeRemote(), cache.NewMemoryCache())
	ctx := context.Background()

	create := &webhook.ChangeEvent{
		ID:         "ev-1",
		Module:     "Accounts",
		Operation:  "create",
		RecordID:   "42",
		Data:       map[string]interface{}{"name": "Acme"},
		ReceivedAt: time.Now(),
	}
	if err := svc.ApplyChangeEvent(ctx, create); err != nil {
		t.Fatalf("ApplyChangeEvent(create) error = %v", err)
	}
	if repo.localFields("Accounts", "42") == nil {
		t.Fatal("created record missing locally")
	}

	update := &webhook.ChangeEvent{
		ID:         "ev-2",
		Module:     "Accounts",
		Operation:  "update",
		RecordID:   "42",
		Data:       map[string]interface{}{"name": "Acme Corp"},
		ReceivedAt: time.Now(),
	}
	if err := svc.ApplyChangeEvent(ctx, update); err != nil {
		t.Fatalf("ApplyChangeEvent(update) error = %v", err)
	}
	if got := repo.localFields("Accounts", "42")["name"]; got != "Acme Corp" {
		t.Errorf("updated name = %v, want Acme Corp", got)
	}

	del := &webhook.ChangeEvent{
		ID:        "ev-3",
		Module:    "Accounts",
		Operation: "delete",
		RecordID:  "42",
	}
	if err := svc.ApplyChangeEvent(ctx, del); err != nil {
		t.Fatalf("ApplyChangeEvent(delete) error = %v", err)
	}
	if repo.localFields("Accounts", "42") != nil {
		t.Error("deleted record still present")
	}
}

func TestValidationSummary(t *testing.T) {
	repo := newFakeSyncRepo()
	repo.SaveSchema(context.Background(), &ModuleSchema{
		Module: "Accounts",
		Schema: `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`,
	})
	repo.UpsertLocalRecord(context.Background(), &LocalRecord{
		Module: "Accounts", RecordID: "1",
		Fields: map[string]interface{}{"name": "Acme"},
	})
	repo.UpsertLocalRecord(context.Background(), &LocalRecord{
		Module: "Accounts", RecordID: "2",
		Fields: map[string]interface{}{"phone": "555-0100"},
	})

	svc := newSyncTestService(syncTestConfig(), repo, newFakeRemote(), cache.NewMemoryCache())

	passes, err := svc.TriggerSync(context.Background(), []string{"Accounts"}, common_models.DirectionPull, true, TriggerManual)
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	v := passes[0].Validation
	if v == nil {
		t.Fatal("no validation summary recorded")
	}
	if v.Checked != 2 || v.Passed != 1 || v.Failed != 1 {
		t.Errorf("validation summary = %+v", v)
	}
	// Schema violations are findings, not failures
	if passes[0].Status != PassCompleted {
		t.Errorf("pass status = %v, want completed", passes[0].Status)
	}
}

func TestSaveSchemaRejectsInvalid(t *testing.T) {
	svc := newSyncTestService(syncTestConfig(), newFakeSyncRepo(), newFakeRemote(), cache.NewMemoryCache())

	err := svc.SaveSchema(context.Background(), "Accounts", `{"type": 42}`)
	if apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeValidation)
	}
}
