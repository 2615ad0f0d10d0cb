package backup

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/config"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeBackupRepo struct {
	mu      stdsync.Mutex
	backups map[string]*BackupMetadata
	points  map[string]*RecoveryPoint
}

func newFakeBackupRepo() *fakeBackupRepo {
	return &fakeBackupRepo{
		backups: make(map[string]*BackupMetadata),
		points:  make(map[string]*RecoveryPoint),
	}
}

func (r *fakeBackupRepo) CreateBackup(ctx context.Context, meta *BackupMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *meta
	r.backups[meta.ID] = &copied
	return nil
}

func (r *fakeBackupRepo) UpdateBackup(ctx context.Context, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backups[id]
	if !ok {
		return fmt.Errorf("backup not found")
	}
	if v, ok := updates["status"]; ok {
		b.Status = v.(BackupStatus)
	}
	if v, ok := updates["error"]; ok {
		b.Error = v.(string)
	}
	if v, ok := updates["size"]; ok {
		b.Size = v.(int64)
	}
	if v, ok := updates["compressed_size"]; ok {
		b.CompressedSize = v.(int64)
	}
	if v, ok := updates["checksum"]; ok {
		b.Checksum = v.(string)
	}
	if v, ok := updates["record_count"]; ok {
		b.RecordCount = v.(int)
	}
	if v, ok := updates["deleted_count"]; ok {
		b.DeletedCount = v.(int)
	}
	if v, ok := updates["storage_key"]; ok {
		b.StorageKey = v.(string)
	}
	if v, ok := updates["timestamp"]; ok {
		b.Timestamp = v.(time.Time)
	}
	return nil
}

func (r *fakeBackupRepo) GetBackup(ctx context.Context, id string) (*BackupMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backups[id]
	if !ok {
		return nil, fmt.Errorf("backup not found")
	}
	copied := *b
	return &copied, nil
}

func (r *fakeBackupRepo) ListBackups(ctx context.Context, filter map[string]interface{}, limit int64) ([]BackupMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BackupMetadata
	for _, b := range r.backups {
		if b.Status == StatusPending || b.Status == StatusInProgress {
			continue
		}
		out = append(out, *b)
	}
	// Newest first, as the real repository sorts
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Timestamp.After(out[i].Timestamp) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *fakeBackupRepo) DeleteBackup(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backups, id)
	return nil
}

func (r *fakeBackupRepo) LatestBackup(ctx context.Context, module string) (*BackupMetadata, error) {
	all, _ := r.ListBackups(ctx, nil, 0)
	for _, b := range all {
		if b.Module == module && b.Status == StatusCompleted {
			copied := b
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeBackupRepo) FindBackupAt(ctx context.Context, module string, at time.Time) (*BackupMetadata, error) {
	all, _ := r.ListBackups(ctx, nil, 0)
	for _, b := range all {
		if b.Module == module && b.Status == StatusCompleted && !b.Timestamp.After(at) {
			copied := b
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeBackupRepo) CreateRecoveryPoint(ctx context.Context, rp *RecoveryPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rp
	r.points[rp.ID] = &copied
	return nil
}

func (r *fakeBackupRepo) ListRecoveryPoints(ctx context.Context, filter map[string]interface{}) ([]RecoveryPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecoveryPoint
	for _, p := range r.points {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeBackupRepo) DeleteRecoveryPointsByBackup(ctx context.Context, backupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.points {
		if p.BackupID == backupID {
			delete(r.points, id)
		}
	}
	return nil
}

func (r *fakeBackupRepo) pointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

type memStorage struct {
	mu          stdsync.Mutex
	data        map[string][]byte
	corruptRead bool
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (s *memStorage) Write(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "backup payload %s not found", key)
	}
	out := append([]byte(nil), data...)
	if s.corruptRead {
		out[0] ^= 0xff
	}
	return out, nil
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStorage) corrupt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.data[key]; ok && len(data) > 0 {
		data[0] ^= 0xff
	}
}

// memRecords is an in-memory RecordStore.
type memRecords struct {
	mu      stdsync.Mutex
	records map[string]*sync.LocalRecord
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]*sync.LocalRecord)}
}

func (m *memRecords) key(module, recordID string) string { return module + "/" + recordID }

func (m *memRecords) GetLocalRecord(ctx context.Context, module, recordID string) (*sync.LocalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[m.key(module, recordID)]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (m *memRecords) UpsertLocalRecord(ctx context.Context, record *sync.LocalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records[m.key(record.Module, record.RecordID)] = &copied
	return nil
}

func (m *memRecords) ListLocalRecords(ctx context.Context, module string, limit int64) ([]sync.LocalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sync.LocalRecord
	for _, rec := range m.records {
		if rec.Module == module {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memRecords) ListLocalChangedSince(ctx context.Context, module string, since time.Time) ([]sync.LocalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sync.LocalRecord
	for _, rec := range m.records {
		if rec.Module == module && rec.ModifiedAt.After(since) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memRecords) remove(module, recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, m.key(module, recordID))
}

func (m *memRecords) fields(module, recordID string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[m.key(module, recordID)]; ok {
		return rec.Fields
	}
	return nil
}

type conflictStore struct {
	mu      stdsync.Mutex
	records map[string]*conflict.ConflictRecord
}

func newConflictStore() *conflictStore {
	return &conflictStore{records: make(map[string]*conflict.ConflictRecord)}
}

func (r *conflictStore) Create(ctx context.Context, record *conflict.ConflictRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	r.records[record.ID.Hex()] = record
	return nil
}

func (r *conflictStore) Get(ctx context.Context, id string) (*conflict.ConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return rec, nil
}

func (r *conflictStore) FindPending(ctx context.Context, module, recordID string) (*conflict.ConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Module == module && rec.RecordID == recordID && rec.Status == conflict.StatusPending {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *conflictStore) List(ctx context.Context, filter map[string]interface{}, limit int64) ([]conflict.ConflictRecord, error) {
	return nil, nil
}

func (r *conflictStore) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return nil
}

func (r *conflictStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func backupTestConfig() *config.Config {
	return &config.Config{
		SyncModules:      []string{"Accounts"},
		RetentionDaily:   7,
		RetentionWeekly:  28,
		RetentionMonthly: 365,
	}
}

type backupFixture struct {
	svc       BackupService
	repo      *fakeBackupRepo
	store     *memStorage
	records   *memRecords
	conflicts *conflictStore
}

func newBackupFixture(cfg *config.Config) *backupFixture {
	d := events.NewDispatcher(zap.NewNop())
	d.Start()
	repo := newFakeBackupRepo()
	store := newMemStorage()
	records := newMemRecords()
	conflicts := newConflictStore()
	svc := NewBackupService(cfg, repo, store, records, conflict.NewConflictService(conflicts, d, zap.NewNop()), d, zap.NewNop())
	return &backupFixture{svc: svc, repo: repo, store: store, records: records, conflicts: conflicts}
}

func seedRecords(f *backupFixture, module string, n int) {
	for i := 1; i <= n; i++ {
		f.records.UpsertLocalRecord(context.Background(), &sync.LocalRecord{
			Module:     module,
			RecordID:   fmt.Sprintf("%d", i),
			Fields:     map[string]interface{}{"name": fmt.Sprintf("record %d", i)},
			ModifiedAt: time.Now(),
		})
	}
}

func TestFullBackupRoundTrip(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 3)

	meta, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}
	if meta.Status != StatusCompleted {
		t.Errorf("status = %v, want completed", meta.Status)
	}
	if meta.RecordCount != 3 || meta.Checksum == "" || meta.CompressedSize == 0 {
		t.Errorf("metadata = %+v", meta)
	}
	if f.repo.pointCount() != 1 {
		t.Errorf("recovery points = %d, want 1", f.repo.pointCount())
	}

	// Wipe the store and restore everything back
	for i := 1; i <= 3; i++ {
		f.records.remove("Accounts", fmt.Sprintf("%d", i))
	}

	result, err := f.svc.Restore(ctx, RestoreOptions{BackupID: meta.ID, Policy: RestoreOverwrite})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Restored != 3 || result.Failed != 0 {
		t.Errorf("restore result = %+v", result)
	}
	for i := 1; i <= 3; i++ {
		if f.records.fields("Accounts", fmt.Sprintf("%d", i)) == nil {
			t.Errorf("record %d not restored", i)
		}
	}
}

func TestRestoreAbortsOnChecksumMismatch(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 2)

	meta, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}

	f.store.corrupt(meta.StorageKey)
	f.records.remove("Accounts", "1")

	_, err = f.svc.Restore(ctx, RestoreOptions{BackupID: meta.ID, Policy: RestoreOverwrite})
	if apperrors.CodeOf(err) != apperrors.CodeIntegrity {
		t.Errorf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeIntegrity)
	}
	if f.records.fields("Accounts", "1") != nil {
		t.Error("corrupt backup mutated the local store")
	}
}

func TestSelfVerifyFailureMarksBackupFailed(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	f.store.corruptRead = true
	seedRecords(f, "Accounts", 1)

	_, err := f.svc.CreateFullBackup(context.Background(), "Accounts")
	if apperrors.CodeOf(err) != apperrors.CodeIntegrity {
		t.Fatalf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeIntegrity)
	}

	backups, _ := f.repo.ListBackups(context.Background(), nil, 0)
	if len(backups) != 1 || backups[0].Status != StatusFailed {
		t.Errorf("backups = %+v, want one failed", backups)
	}
	if f.repo.pointCount() != 0 {
		t.Error("failed backup left a recovery point")
	}
}

func TestIncrementalBackupNoop(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 2)

	base, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}
	pointsBefore := f.repo.pointCount()

	inc, err := f.svc.CreateIncrementalBackup(ctx, "Accounts", base.ID)
	if err != nil {
		t.Fatalf("CreateIncrementalBackup() error = %v", err)
	}
	if inc.Status != StatusCompleted {
		t.Errorf("status = %v, want completed", inc.Status)
	}
	if inc.CompressedSize != 0 || inc.StorageKey != "" {
		t.Errorf("no-op incremental wrote a payload: %+v", inc)
	}
	if f.repo.pointCount() != pointsBefore {
		t.Error("no-op incremental created a recovery point")
	}
}

func TestIncrementalCapturesChangesAndDeletes(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 3)

	base, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}

	f.records.UpsertLocalRecord(ctx, &sync.LocalRecord{
		Module:     "Accounts",
		RecordID:   "1",
		Fields:     map[string]interface{}{"name": "renamed"},
		ModifiedAt: time.Now().Add(time.Minute),
	})
	f.records.remove("Accounts", "3")

	inc, err := f.svc.CreateIncrementalBackup(ctx, "Accounts", base.ID)
	if err != nil {
		t.Fatalf("CreateIncrementalBackup() error = %v", err)
	}
	if inc.RecordCount != 1 {
		t.Errorf("record count = %d, want 1", inc.RecordCount)
	}
	if inc.DeletedCount != 1 {
		t.Errorf("deleted count = %d, want 1", inc.DeletedCount)
	}

	data, _ := f.store.Read(ctx, inc.StorageKey)
	arch, err := decodeArchive(data)
	if err != nil {
		t.Fatalf("decodeArchive() error = %v", err)
	}
	if len(arch.Records) != 1 || arch.Records[0].RecordID != "1" {
		t.Errorf("archive records = %+v", arch.Records)
	}
	if len(arch.DeletedRecords) != 1 || arch.DeletedRecords[0] != "3" {
		t.Errorf("archive deleted = %v", arch.DeletedRecords)
	}
}

func TestRestoreDryRunDoesNotMutate(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 2)

	meta, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}

	// Diverge record 1 and remove record 2
	f.records.UpsertLocalRecord(ctx, &sync.LocalRecord{
		Module:   "Accounts",
		RecordID: "1",
		Fields:   map[string]interface{}{"name": "changed since backup"},
	})
	f.records.remove("Accounts", "2")

	result, err := f.svc.Restore(ctx, RestoreOptions{BackupID: meta.ID, Policy: RestoreMerge, DryRun: true})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !result.DryRun || result.Restored != 2 || result.Conflicts != 1 {
		t.Errorf("dry-run result = %+v", result)
	}

	if got := f.records.fields("Accounts", "1")["name"]; got != "changed since backup" {
		t.Errorf("dry run mutated record 1: %v", got)
	}
	if f.records.fields("Accounts", "2") != nil {
		t.Error("dry run recreated record 2")
	}
	if f.conflicts.count() != 0 {
		t.Error("dry run persisted conflict records")
	}
}

func TestRestoreSkipPolicyQueuesConflict(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 1)

	meta, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}

	f.records.UpsertLocalRecord(ctx, &sync.LocalRecord{
		Module:   "Accounts",
		RecordID: "1",
		Fields:   map[string]interface{}{"name": "diverged"},
	})

	result, err := f.svc.Restore(ctx, RestoreOptions{BackupID: meta.ID, Policy: RestoreSkip})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Skipped != 1 || result.Conflicts != 1 || result.Restored != 0 {
		t.Errorf("result = %+v", result)
	}
	if got := f.records.fields("Accounts", "1")["name"]; got != "diverged" {
		t.Errorf("skip policy overwrote local record: %v", got)
	}

	pending, _ := f.conflicts.FindPending(ctx, "Accounts", "1")
	if pending == nil {
		t.Error("no conflict queued for the skipped record")
	}
}

func TestRestoreRecordSubset(t *testing.T) {
	f := newBackupFixture(backupTestConfig())
	ctx := context.Background()
	seedRecords(f, "Accounts", 3)

	meta, err := f.svc.CreateFullBackup(ctx, "Accounts")
	if err != nil {
		t.Fatalf("CreateFullBackup() error = %v", err)
	}
	for i := 1; i <= 3; i++ {
		f.records.remove("Accounts", fmt.Sprintf("%d", i))
	}

	result, err := f.svc.Restore(ctx, RestoreOptions{
		BackupID:  meta.ID,
		Policy:    RestoreOverwrite,
		RecordIDs: []string{"2"},
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Restored != 1 {
		t.Errorf("restored = %d, want 1", result.Restored)
	}
	if f.records.fields("Accounts", "1") != nil || f.records.fields("Accounts", "3") != nil {
		t.Error("records outside the subset were restored")
	}
	if f.records.fields("Accounts", "2") == nil {
		t.Error("requested record not restored")
	}
}

func TestCleanupKeepsMostRecentBackup(t *testing.T) {
	cfg := backupTestConfig()
	cfg.RetentionDaily = 1
	cfg.RetentionWeekly = 2
	cfg.RetentionMonthly = 3
	f := newBackupFixture(cfg)
	ctx := context.Background()

	// Two ancient backups far past every tier, newest first by timestamp
	old1 := &BackupMetadata{ID: "old-1", Module: "Accounts", Type: BackupFull, Status: StatusCompleted, Timestamp: time.Now().AddDate(0, 0, -400), StorageKey: "old-1.json.gz"}
	old2 := &BackupMetadata{ID: "old-2", Module: "Accounts", Type: BackupFull, Status: StatusCompleted, Timestamp: time.Now().AddDate(0, 0, -500), StorageKey: "old-2.json.gz"}
	f.repo.CreateBackup(ctx, old1)
	f.repo.CreateBackup(ctx, old2)
	f.store.Write(ctx, "old-1.json.gz", []byte("x"))
	f.store.Write(ctx, "old-2.json.gz", []byte("x"))
	f.repo.CreateRecoveryPoint(ctx, &RecoveryPoint{ID: "rp-1", BackupID: "old-1", Module: "Accounts"})
	f.repo.CreateRecoveryPoint(ctx, &RecoveryPoint{ID: "rp-2", BackupID: "old-2", Module: "Accounts"})

	deleted, err := f.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	// The newest backup survives even though it is past every tier
	if _, err := f.repo.GetBackup(ctx, "old-1"); err != nil {
		t.Error("most recent backup was deleted")
	}
	if _, err := f.repo.GetBackup(ctx, "old-2"); err == nil {
		t.Error("expired backup survived cleanup")
	}
	points, _ := f.repo.ListRecoveryPoints(ctx, nil)
	if len(points) != 1 || points[0].BackupID != "old-1" {
		t.Errorf("recovery points after cleanup = %+v", points)
	}
}
