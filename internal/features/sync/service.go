package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/cache"
	common_models "go-crmsync/internal/common/models"
	"go-crmsync/internal/config"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/webhook"
	"go-crmsync/internal/remote"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SyncService interface {
	// TriggerSync runs one pass per module, concurrently. A module with a
	// pass already active is rejected with a conflict error; the other
	// modules proceed.
	TriggerSync(ctx context.Context, modules []string, direction common_models.SyncDirection, validate bool, trigger Trigger) ([]SyncPass, error)

	// RunScheduled performs the periodic bidirectional pass across all
	// configured modules. Incremental when a full baseline exists,
	// otherwise full.
	RunScheduled(ctx context.Context)

	// ApplyChangeEvent applies one webhook event to the local store,
	// routing create/update through the conflict engine.
	ApplyChangeEvent(ctx context.Context, event *webhook.ChangeEvent) error

	GetPass(ctx context.Context, id string) (*SyncPass, error)
	ListPasses(ctx context.Context, module string, limit int64) ([]SyncPass, error)
	ListCursors(ctx context.Context) ([]SyncCursor, error)

	SaveSchema(ctx context.Context, module, source string) error
}

type SyncServiceImpl struct {
	Config     *config.Config
	Repo       SyncRepository
	Remote     remote.Client
	Conflicts  conflict.ConflictService
	Cache      cache.Cache
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger
}

func NewSyncService(cfg *config.Config, repo SyncRepository, remoteClient remote.Client, conflicts conflict.ConflictService, c cache.Cache, dispatcher *events.Dispatcher, logger *zap.Logger) *SyncServiceImpl {
	return &SyncServiceImpl{
		Config:     cfg,
		Repo:       repo,
		Remote:     remoteClient,
		Conflicts:  conflicts,
		Cache:      c,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

func (s *SyncServiceImpl) TriggerSync(ctx context.Context, modules []string, direction common_models.SyncDirection, validate bool, trigger Trigger) ([]SyncPass, error) {
	if !direction.Valid() {
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown sync direction %q", direction)
	}
	if len(modules) == 0 {
		modules = s.Config.SyncModules
	}

	var (
		mu     stdsync.Mutex
		passes []SyncPass
		errs   []error
		wg     stdsync.WaitGroup
	)
	for _, module := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pass, err := s.runPass(ctx, module, direction, validate, trigger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			passes = append(passes, *pass)
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return passes, errs[0]
	}
	return passes, nil
}

// runPass executes one module's pass end to end under the module lock.
func (s *SyncServiceImpl) runPass(ctx context.Context, module string, direction common_models.SyncDirection, validate bool, trigger Trigger) (*SyncPass, error) {
	pass := &SyncPass{
		ID:        uuid.NewString(),
		Module:    module,
		Direction: direction,
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    PassRunning,
	}

	lockKey := "sync:lock:" + module
	acquired, err := s.Cache.AcquireLock(ctx, lockKey, pass.ID, s.Config.SyncLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperrors.Newf(apperrors.CodeConflictDetected, "sync pass already active for module %s", module)
	}
	defer func() {
		if err := s.Cache.ReleaseLock(context.Background(), lockKey, pass.ID); err != nil {
			s.Logger.Warn("failed to release sync lock", zap.String("module", module), zap.Error(err))
		}
	}()

	cursor, err := s.Repo.GetCursor(ctx, module)
	if err != nil {
		return nil, err
	}
	// An incremental pass needs a full baseline; without one we promote
	// the pass to full.
	pass.Full = cursor == nil || cursor.BaselineID == ""
	since := time.Time{}
	if !pass.Full {
		since = cursor.LastPassAt
	}

	if err := s.Repo.CreatePass(ctx, pass); err != nil {
		return nil, err
	}

	if validate {
		if err := s.validatePhase(ctx, pass); err != nil {
			return s.failPass(ctx, pass, err)
		}
	}

	if direction == common_models.DirectionPull || direction == common_models.DirectionBidirectional {
		if err := s.pullPhase(ctx, pass, since); err != nil {
			return s.failPass(ctx, pass, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return s.failPass(ctx, pass, err)
	}
	if direction == common_models.DirectionPush || direction == common_models.DirectionBidirectional {
		if err := s.pushPhase(ctx, pass, since); err != nil {
			return s.failPass(ctx, pass, err)
		}
	}

	// Advance the watermark only after a fully successful pass
	if cursor == nil {
		cursor = &SyncCursor{Module: module}
	}
	cursor.LastPassAt = pass.StartedAt
	if pass.Full {
		cursor.BaselineID = pass.ID
		cursor.BaselineAt = pass.StartedAt
	}
	if err := s.Repo.SaveCursor(ctx, cursor); err != nil {
		return s.failPass(ctx, pass, err)
	}

	now := time.Now()
	pass.FinishedAt = &now
	pass.Status = PassCompleted
	if err := s.Repo.UpdatePass(ctx, pass.ID, map[string]interface{}{
		"status":          PassCompleted,
		"finished_at":     now,
		"records_pulled":  pass.RecordsPulled,
		"records_pushed":  pass.RecordsPushed,
		"conflicts_found": pass.ConflictsFound,
		"validation":      pass.Validation,
		"full":            pass.Full,
	}); err != nil {
		s.Logger.Error("failed to persist completed pass", zap.String("pass", pass.ID), zap.Error(err))
	}

	s.Dispatcher.Publish(events.Event{
		Type:   events.SyncCompleted,
		Module: module,
		Payload: map[string]interface{}{
			"passId":    pass.ID,
			"pulled":    pass.RecordsPulled,
			"pushed":    pass.RecordsPushed,
			"conflicts": pass.ConflictsFound,
		},
	})
	s.Logger.Info("sync pass completed",
		zap.String("module", module),
		zap.String("direction", string(direction)),
		zap.Int("pulled", pass.RecordsPulled),
		zap.Int("pushed", pass.RecordsPushed),
		zap.Int("conflicts", pass.ConflictsFound),
	)
	return pass, nil
}

func (s *SyncServiceImpl) failPass(ctx context.Context, pass *SyncPass, cause error) (*SyncPass, error) {
	now := time.Now()
	pass.FinishedAt = &now
	pass.Status = PassFailed
	pass.Error = cause.Error()

	if err := s.Repo.UpdatePass(ctx, pass.ID, map[string]interface{}{
		"status":          PassFailed,
		"finished_at":     now,
		"error":           pass.Error,
		"records_pulled":  pass.RecordsPulled,
		"records_pushed":  pass.RecordsPushed,
		"conflicts_found": pass.ConflictsFound,
		"validation":      pass.Validation,
		"full":            pass.Full,
	}); err != nil {
		s.Logger.Error("failed to persist failed pass", zap.String("pass", pass.ID), zap.Error(err))
	}

	s.Dispatcher.Publish(events.Event{
		Type:   events.SyncFailed,
		Module: pass.Module,
		Payload: map[string]interface{}{
			"passId": pass.ID,
			"error":  pass.Error,
		},
	})
	s.Logger.Error("sync pass failed", zap.String("module", pass.Module), zap.Error(cause))
	return nil, cause
}

// validatePhase samples local records against the module schema. Schema
// violations are data-quality findings, not pass failures; only a
// broken schema fails the pass.
func (s *SyncServiceImpl) validatePhase(ctx context.Context, pass *SyncPass) error {
	moduleSchema, err := s.Repo.GetSchema(ctx, pass.Module)
	if err != nil {
		return err
	}
	if moduleSchema == nil {
		pass.Validation = &ValidationSummary{}
		return nil
	}

	schema, err := compileSchema(pass.Module, moduleSchema.Schema)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "module schema does not compile", err)
	}

	sample, err := s.Repo.ListLocalRecords(ctx, pass.Module, validationSampleSize)
	if err != nil {
		return err
	}
	pass.Validation = validateRecords(schema, sample)
	return nil
}

// pullPhase fetches remote deltas and applies them locally through the
// conflict engine. Remote-call failures surface before any local write.
func (s *SyncServiceImpl) pullPhase(ctx context.Context, pass *SyncPass, since time.Time) error {
	records, err := s.Remote.ListChangedRecords(ctx, pass.Module, since)
	if err != nil {
		return err
	}
	deletedIDs, err := s.Remote.ListDeletedIDs(ctx, pass.Module, since)
	if err != nil {
		return err
	}

	for _, rec := range records {
		local, err := s.Repo.GetLocalRecord(ctx, pass.Module, rec.ID)
		if err != nil {
			return err
		}

		fields := rec.Fields
		if local != nil {
			res, err := s.Conflicts.Resolve(ctx, pass.Module, rec.ID, rec.Fields, local.Fields, s.policy())
			if err != nil {
				return err
			}
			if res.Conflicted {
				pass.ConflictsFound++
			}
			if res.Pending {
				// Queued for manual resolution; the record stays un-synced
				continue
			}
			fields = res.Merged
		}

		if err := s.Repo.UpsertLocalRecord(ctx, &LocalRecord{
			Module:     pass.Module,
			RecordID:   rec.ID,
			Fields:     fields,
			ModifiedAt: rec.ModifiedAt,
		}); err != nil {
			return err
		}
		pass.RecordsPulled++
	}

	for _, id := range deletedIDs {
		if err := s.Repo.DeleteLocalRecord(ctx, pass.Module, id); err != nil {
			return err
		}
		pass.RecordsPulled++
	}
	return nil
}

// pushPhase sends local deltas to the remote side, resolving against
// the remote copy when one exists.
func (s *SyncServiceImpl) pushPhase(ctx context.Context, pass *SyncPass, since time.Time) error {
	changed, err := s.Repo.ListLocalChangedSince(ctx, pass.Module, since)
	if err != nil {
		return err
	}

	for _, local := range changed {
		remoteRec, err := s.Remote.GetRecord(ctx, pass.Module, local.RecordID)
		if err != nil && apperrors.CodeOf(err) != apperrors.CodeNotFound {
			return err
		}

		fields := local.Fields
		if remoteRec != nil {
			res, err := s.Conflicts.Resolve(ctx, pass.Module, local.RecordID, remoteRec.Fields, local.Fields, s.policy())
			if err != nil {
				return err
			}
			if res.Conflicted {
				pass.ConflictsFound++
			}
			if res.Pending {
				continue
			}
			fields = res.Merged
		}

		if err := s.Remote.UpsertRecord(ctx, pass.Module, remote.Record{
			ID:         local.RecordID,
			Module:     pass.Module,
			Fields:     fields,
			ModifiedAt: local.ModifiedAt,
		}); err != nil {
			return err
		}
		pass.RecordsPushed++
	}
	return nil
}

func (s *SyncServiceImpl) RunScheduled(ctx context.Context) {
	_, err := s.TriggerSync(ctx, s.Config.SyncModules, common_models.DirectionBidirectional, false, TriggerScheduled)
	if err != nil {
		s.Logger.Error("scheduled sync failed", zap.Error(err))
	}
}

func (s *SyncServiceImpl) ApplyChangeEvent(ctx context.Context, event *webhook.ChangeEvent) error {
	if event.Operation == string(common_models.OperationDelete) {
		return s.Repo.DeleteLocalRecord(ctx, event.Module, event.RecordID)
	}

	local, err := s.Repo.GetLocalRecord(ctx, event.Module, event.RecordID)
	if err != nil {
		return err
	}

	fields := event.Data
	if local != nil {
		res, err := s.Conflicts.Resolve(ctx, event.Module, event.RecordID, event.Data, local.Fields, s.policy())
		if err != nil {
			return err
		}
		if res.Pending {
			return nil
		}
		fields = res.Merged
	}

	return s.Repo.UpsertLocalRecord(ctx, &LocalRecord{
		Module:     event.Module,
		RecordID:   event.RecordID,
		Fields:     fields,
		ModifiedAt: event.ReceivedAt,
	})
}

func (s *SyncServiceImpl) policy() conflict.Policy {
	p := conflict.Policy(s.Config.ConflictPolicy)
	if !p.Valid() {
		return conflict.PolicyMerge
	}
	return p
}

func (s *SyncServiceImpl) GetPass(ctx context.Context, id string) (*SyncPass, error) {
	pass, err := s.Repo.GetPass(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "sync pass not found", err)
	}
	return pass, nil
}

func (s *SyncServiceImpl) ListPasses(ctx context.Context, module string, limit int64) ([]SyncPass, error) {
	filter := map[string]interface{}{}
	if module != "" {
		filter["module"] = module
	}
	return s.Repo.ListPasses(ctx, filter, limit)
}

func (s *SyncServiceImpl) ListCursors(ctx context.Context) ([]SyncCursor, error) {
	return s.Repo.ListCursors(ctx)
}

func (s *SyncServiceImpl) SaveSchema(ctx context.Context, module, source string) error {
	if _, err := compileSchema(module, source); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "schema does not compile", err)
	}
	return s.Repo.SaveSchema(ctx, &ModuleSchema{Module: module, Schema: source})
}
