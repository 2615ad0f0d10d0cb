package backup

import (
	"context"
	"fmt"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/config"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordStore is the slice of the local record store the backup manager
// needs. The sync repository satisfies it.
type RecordStore interface {
	GetLocalRecord(ctx context.Context, module, recordID string) (*sync.LocalRecord, error)
	UpsertLocalRecord(ctx context.Context, record *sync.LocalRecord) error
	ListLocalRecords(ctx context.Context, module string, limit int64) ([]sync.LocalRecord, error)
	ListLocalChangedSince(ctx context.Context, module string, since time.Time) ([]sync.LocalRecord, error)
}

type BackupService interface {
	CreateFullBackup(ctx context.Context, module string) (*BackupMetadata, error)
	CreateIncrementalBackup(ctx context.Context, module, baseID string) (*BackupMetadata, error)
	Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error)

	// CleanupExpired prunes backups past the retention tiers, keeping at
	// least the most recent backup per module. Returns how many backups
	// were deleted.
	CleanupExpired(ctx context.Context) (int, error)

	// RunScheduled takes the periodic full backup of every configured
	// module, then prunes expired ones.
	RunScheduled(ctx context.Context)

	GetBackup(ctx context.Context, id string) (*BackupMetadata, error)
	ListBackups(ctx context.Context, module string, limit int64) ([]BackupMetadata, error)
	ListRecoveryPoints(ctx context.Context, module string) ([]RecoveryPoint, error)
}

type BackupServiceImpl struct {
	Config     *config.Config
	Repo       BackupRepository
	Store      Storage
	Records    RecordStore
	Conflicts  conflict.ConflictService
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger
}

func NewBackupService(cfg *config.Config, repo BackupRepository, store Storage, records RecordStore, conflicts conflict.ConflictService, dispatcher *events.Dispatcher, logger *zap.Logger) BackupService {
	return &BackupServiceImpl{
		Config:     cfg,
		Repo:       repo,
		Store:      store,
		Records:    records,
		Conflicts:  conflicts,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

func (s *BackupServiceImpl) CreateFullBackup(ctx context.Context, module string) (*BackupMetadata, error) {
	meta, err := s.beginBackup(ctx, module, BackupFull, "")
	if err != nil {
		return nil, err
	}

	records, err := s.Records.ListLocalRecords(ctx, module, 0)
	if err != nil {
		return s.failBackup(ctx, meta, err)
	}

	return s.writePayload(ctx, meta, records, nil)
}

func (s *BackupServiceImpl) CreateIncrementalBackup(ctx context.Context, module, baseID string) (*BackupMetadata, error) {
	base, err := s.Repo.GetBackup(ctx, baseID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "base backup not found", err)
	}
	if base.Module != module || base.Status != StatusCompleted {
		return nil, apperrors.New(apperrors.CodeValidation, "base backup must be a completed backup of the same module")
	}

	meta, err := s.beginBackup(ctx, module, BackupIncremental, baseID)
	if err != nil {
		return nil, err
	}

	changed, err := s.Records.ListLocalChangedSince(ctx, module, base.Timestamp)
	if err != nil {
		return s.failBackup(ctx, meta, err)
	}

	deleted, err := s.deletedSince(ctx, base)
	if err != nil {
		return s.failBackup(ctx, meta, err)
	}

	// A no-op incremental is valid and cheap: completed, zero size, no
	// recovery point.
	if len(changed) == 0 && len(deleted) == 0 {
		now := time.Now()
		meta.Status = StatusCompleted
		if err := s.Repo.UpdateBackup(ctx, meta.ID, map[string]interface{}{
			"status":    StatusCompleted,
			"timestamp": now,
		}); err != nil {
			return s.failBackup(ctx, meta, err)
		}
		meta.Timestamp = now

		s.Dispatcher.Publish(events.Event{
			Type:   events.BackupCompleted,
			Module: module,
			Payload: map[string]interface{}{
				"backupId": meta.ID,
				"records":  0,
				"noop":     true,
			},
		})
		s.Logger.Info("incremental backup had no changes", zap.String("module", module), zap.String("base", baseID))
		return meta, nil
	}

	return s.writePayload(ctx, meta, changed, deleted)
}

func (s *BackupServiceImpl) beginBackup(ctx context.Context, module string, typ BackupType, baseID string) (*BackupMetadata, error) {
	meta := &BackupMetadata{
		ID:            uuid.NewString(),
		Type:          typ,
		Module:        module,
		BaseBackupID:  baseID,
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Status:        StatusPending,
	}
	if err := s.Repo.CreateBackup(ctx, meta); err != nil {
		return nil, err
	}

	meta.Status = StatusInProgress
	if err := s.Repo.UpdateBackup(ctx, meta.ID, map[string]interface{}{"status": StatusInProgress}); err != nil {
		return nil, err
	}
	return meta, nil
}

// writePayload serializes, compresses, checksums, persists and
// self-verifies the archive, then completes the backup with a recovery
// point.
func (s *BackupServiceImpl) writePayload(ctx context.Context, meta *BackupMetadata, records []sync.LocalRecord, deleted []string) (*BackupMetadata, error) {
	meta.RecordCount = len(records)
	meta.DeletedCount = len(deleted)
	meta.StorageKey = meta.ID + ".json.gz"

	data, rawSize, checksum, err := encodeArchive(&archive{
		Metadata:       *meta,
		Records:        records,
		DeletedRecords: deleted,
	})
	if err != nil {
		return s.failBackup(ctx, meta, err)
	}
	meta.Size = rawSize
	meta.CompressedSize = int64(len(data))
	meta.Checksum = checksum

	if err := s.Store.Write(ctx, meta.StorageKey, data); err != nil {
		return s.failBackup(ctx, meta, err)
	}

	// Self-verify: read back what was written and recompute the checksum
	readBack, err := s.Store.Read(ctx, meta.StorageKey)
	if err != nil {
		return s.failBackup(ctx, meta, err)
	}
	if checksumOf(readBack) != meta.Checksum {
		if err := s.Store.Delete(ctx, meta.StorageKey); err != nil {
			s.Logger.Error("failed to remove corrupt backup payload", zap.String("backup", meta.ID), zap.Error(err))
		}
		return s.failBackup(ctx, meta, apperrors.New(apperrors.CodeIntegrity, "backup self-verification failed"))
	}

	meta.Status = StatusCompleted
	if err := s.Repo.UpdateBackup(ctx, meta.ID, map[string]interface{}{
		"status":          StatusCompleted,
		"size":            meta.Size,
		"compressed_size": meta.CompressedSize,
		"checksum":        meta.Checksum,
		"record_count":    meta.RecordCount,
		"deleted_count":   meta.DeletedCount,
		"storage_key":     meta.StorageKey,
	}); err != nil {
		return s.failBackup(ctx, meta, err)
	}

	rp := &RecoveryPoint{
		ID:          uuid.NewString(),
		BackupID:    meta.ID,
		Module:      meta.Module,
		Timestamp:   meta.Timestamp,
		RecordCount: meta.RecordCount,
		Recoverable: true,
	}
	if err := s.Repo.CreateRecoveryPoint(ctx, rp); err != nil {
		return s.failBackup(ctx, meta, err)
	}

	s.Dispatcher.Publish(events.Event{
		Type:   events.BackupCompleted,
		Module: meta.Module,
		Payload: map[string]interface{}{
			"backupId": meta.ID,
			"type":     string(meta.Type),
			"records":  meta.RecordCount,
		},
	})
	s.Logger.Info("backup completed",
		zap.String("module", meta.Module),
		zap.String("type", string(meta.Type)),
		zap.Int("records", meta.RecordCount),
		zap.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

func (s *BackupServiceImpl) failBackup(ctx context.Context, meta *BackupMetadata, cause error) (*BackupMetadata, error) {
	meta.Status = StatusFailed
	meta.Error = cause.Error()
	if err := s.Repo.UpdateBackup(ctx, meta.ID, map[string]interface{}{
		"status": StatusFailed,
		"error":  meta.Error,
	}); err != nil {
		s.Logger.Error("failed to persist failed backup", zap.String("backup", meta.ID), zap.Error(err))
	}

	s.Dispatcher.Publish(events.Event{
		Type:   events.BackupFailed,
		Module: meta.Module,
		Payload: map[string]interface{}{
			"backupId": meta.ID,
			"error":    meta.Error,
		},
	})
	s.Logger.Error("backup failed", zap.String("module", meta.Module), zap.Error(cause))
	return nil, cause
}

// deletedSince reports record ids present in the base backup's archive
// but no longer in the local store. A base without a payload yields no
// deletions.
func (s *BackupServiceImpl) deletedSince(ctx context.Context, base *BackupMetadata) ([]string, error) {
	if base.StorageKey == "" {
		return nil, nil
	}

	data, err := s.Store.Read(ctx, base.StorageKey)
	if err != nil {
		return nil, err
	}
	baseArchive, err := decodeArchive(data)
	if err != nil {
		return nil, err
	}

	current, err := s.Records.ListLocalRecords(ctx, base.Module, 0)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(current))
	for _, rec := range current {
		present[rec.RecordID] = true
	}

	var deleted []string
	for _, rec := range baseArchive.Records {
		if !present[rec.RecordID] {
			deleted = append(deleted, rec.RecordID)
		}
	}
	return deleted, nil
}

func (s *BackupServiceImpl) Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	if opts.Policy == "" {
		opts.Policy = RestoreSkip
	}
	if !opts.Policy.Valid() {
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown restore policy %q", opts.Policy)
	}

	meta, err := s.resolveBackup(ctx, opts)
	if err != nil {
		return nil, err
	}
	if meta.StorageKey == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "backup has no payload to restore")
	}

	// Integrity gate: nothing is restored from a payload that fails its
	// checksum.
	data, err := s.Store.Read(ctx, meta.StorageKey)
	if err != nil {
		return nil, err
	}
	if checksumOf(data) != meta.Checksum {
		err := apperrors.New(apperrors.CodeIntegrity, "backup checksum mismatch")
		s.publishRestoreFailed(meta, err)
		return nil, err
	}
	arch, err := decodeArchive(data)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeIntegrity, "backup payload is corrupt", err)
		s.publishRestoreFailed(meta, err)
		return nil, err
	}

	var subset map[string]bool
	if len(opts.RecordIDs) > 0 {
		subset = make(map[string]bool, len(opts.RecordIDs))
		for _, id := range opts.RecordIDs {
			subset[id] = true
		}
	}

	result := &RestoreResult{BackupID: meta.ID, Module: meta.Module, DryRun: opts.DryRun}
	for i := range arch.Records {
		rec := &arch.Records[i]
		if subset != nil && !subset[rec.RecordID] {
			continue
		}
		s.restoreRecord(ctx, meta.Module, rec, opts, result)
	}

	s.Dispatcher.Publish(events.Event{
		Type:   events.RestoreCompleted,
		Module: meta.Module,
		Payload: map[string]interface{}{
			"backupId":  meta.ID,
			"restored":  result.Restored,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
			"conflicts": result.Conflicts,
			"dryRun":    result.DryRun,
		},
	})
	s.Logger.Info("restore finished",
		zap.String("module", meta.Module),
		zap.String("backup", meta.ID),
		zap.Bool("dry_run", result.DryRun),
		zap.Int("restored", result.Restored),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// restoreRecord applies one archived record under the restore policy.
// Failures are counted, never propagated; one record must not sink the
// batch.
func (s *BackupServiceImpl) restoreRecord(ctx context.Context, module string, rec *sync.LocalRecord, opts RestoreOptions, result *RestoreResult) {
	existing, err := s.Records.GetLocalRecord(ctx, module, rec.RecordID)
	if err != nil {
		result.Failed++
		return
	}

	if existing == nil {
		if !opts.DryRun {
			if err := s.Records.UpsertLocalRecord(ctx, rec); err != nil {
				result.Failed++
				return
			}
		}
		result.Restored++
		return
	}

	diffs := s.Conflicts.Detect(rec.Fields, existing.Fields)
	if len(diffs) == 0 {
		result.Skipped++
		return
	}
	result.Conflicts++

	switch opts.Policy {
	case RestoreSkip:
		if !opts.DryRun {
			// Record the disagreement for the operator, keep current state
			if _, err := s.Conflicts.Resolve(ctx, module, rec.RecordID, rec.Fields, existing.Fields, conflict.PolicyManual); err != nil {
				result.Failed++
				return
			}
		}
		result.Skipped++

	case RestoreOverwrite:
		if !opts.DryRun {
			if err := s.Records.UpsertLocalRecord(ctx, rec); err != nil {
				result.Failed++
				return
			}
		}
		result.Restored++

	case RestoreMerge:
		if opts.DryRun {
			result.Restored++
			return
		}
		res, err := s.Conflicts.Resolve(ctx, module, rec.RecordID, rec.Fields, existing.Fields, conflict.PolicyMerge)
		if err != nil {
			result.Failed++
			return
		}
		merged := *rec
		merged.Fields = res.Merged
		if err := s.Records.UpsertLocalRecord(ctx, &merged); err != nil {
			result.Failed++
			return
		}
		result.Restored++
	}
}

func (s *BackupServiceImpl) resolveBackup(ctx context.Context, opts RestoreOptions) (*BackupMetadata, error) {
	if opts.BackupID != "" {
		meta, err := s.Repo.GetBackup(ctx, opts.BackupID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, "backup not found", err)
		}
		if meta.Status != StatusCompleted {
			return nil, apperrors.Newf(apperrors.CodeValidation, "backup %s is %s, not completed", meta.ID, meta.Status)
		}
		return meta, nil
	}

	if opts.Module == "" || opts.PointInTime == nil {
		return nil, apperrors.New(apperrors.CodeValidation, "restore needs a backup id or module plus point in time")
	}
	meta, err := s.Repo.FindBackupAt(ctx, opts.Module, *opts.PointInTime)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no backup for %s at or before %s", opts.Module, opts.PointInTime.Format(time.RFC3339))
	}
	return meta, nil
}

func (s *BackupServiceImpl) publishRestoreFailed(meta *BackupMetadata, cause error) {
	s.Dispatcher.Publish(events.Event{
		Type:   events.RestoreFailed,
		Module: meta.Module,
		Payload: map[string]interface{}{
			"backupId": meta.ID,
			"error":    cause.Error(),
		},
	})
}

// CleanupExpired keeps every backup inside the daily horizon, the
// newest backup per week inside the weekly horizon and the newest per
// month inside the monthly horizon. The most recent backup of each
// module survives regardless.
func (s *BackupServiceImpl) CleanupExpired(ctx context.Context) (int, error) {
	backups, err := s.Repo.ListBackups(ctx, map[string]interface{}{
		"status": map[string]interface{}{"$in": []BackupStatus{StatusCompleted, StatusFailed}},
	}, 0)
	if err != nil {
		return 0, err
	}

	byModule := make(map[string][]BackupMetadata)
	for _, b := range backups {
		byModule[b.Module] = append(byModule[b.Module], b)
	}

	now := time.Now()
	deleted := 0
	for _, moduleBackups := range byModule {
		// Sorted newest first by the repository; index 0 is the floor
		seenWeek := make(map[string]bool)
		seenMonth := make(map[string]bool)
		for i, b := range moduleBackups {
			if i == 0 {
				continue
			}
			if s.keepUnderRetention(now, b, seenWeek, seenMonth) {
				continue
			}
			if err := s.deleteBackup(ctx, &b); err != nil {
				s.Logger.Error("failed to delete expired backup", zap.String("backup", b.ID), zap.Error(err))
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		s.Logger.Info("retention cleanup removed backups", zap.Int("deleted", deleted))
	}
	return deleted, nil
}

func (s *BackupServiceImpl) keepUnderRetention(now time.Time, b BackupMetadata, seenWeek, seenMonth map[string]bool) bool {
	ageDays := int(now.Sub(b.Timestamp).Hours() / 24)

	if ageDays <= s.Config.RetentionDaily {
		return true
	}
	if ageDays <= s.Config.RetentionWeekly {
		year, week := b.Timestamp.ISOWeek()
		key := fmt.Sprintf("%d-w%02d", year, week)
		if !seenWeek[key] {
			seenWeek[key] = true
			return true
		}
		return false
	}
	if ageDays <= s.Config.RetentionMonthly {
		key := b.Timestamp.Format("2006-01")
		if !seenMonth[key] {
			seenMonth[key] = true
			return true
		}
		return false
	}
	return false
}

// deleteBackup removes payload, metadata and recovery points together.
func (s *BackupServiceImpl) deleteBackup(ctx context.Context, b *BackupMetadata) error {
	if b.StorageKey != "" {
		if err := s.Store.Delete(ctx, b.StorageKey); err != nil {
			return err
		}
	}
	if err := s.Repo.DeleteRecoveryPointsByBackup(ctx, b.ID); err != nil {
		return err
	}
	return s.Repo.DeleteBackup(ctx, b.ID)
}

func (s *BackupServiceImpl) RunScheduled(ctx context.Context) {
	for _, module := range s.Config.SyncModules {
		if _, err := s.CreateFullBackup(ctx, module); err != nil {
			s.Logger.Error("scheduled backup failed", zap.String("module", module), zap.Error(err))
		}
	}
	if _, err := s.CleanupExpired(ctx); err != nil {
		s.Logger.Error("retention cleanup failed", zap.Error(err))
	}
}

func (s *BackupServiceImpl) GetBackup(ctx context.Context, id string) (*BackupMetadata, error) {
	meta, err := s.Repo.GetBackup(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "backup not found", err)
	}
	return meta, nil
}

func (s *BackupServiceImpl) ListBackups(ctx context.Context, module string, limit int64) ([]BackupMetadata, error) {
	filter := map[string]interface{}{}
	if module != "" {
		filter["module"] = module
	}
	return s.Repo.ListBackups(ctx, filter, limit)
}

func (s *BackupServiceImpl) ListRecoveryPoints(ctx context.Context, module string) ([]RecoveryPoint, error) {
	filter := map[string]interface{}{}
	if module != "" {
		filter["module"] = module
	}
	return s.Repo.ListRecoveryPoints(ctx, filter)
}
