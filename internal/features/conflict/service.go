package conflict

import (
	"context"
	"reflect"
	"sort"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/events"

	"go.uber.org/zap"
)

// volatileFields never count as conflicts; they differ between stores by
// construction.
var volatileFields = map[string]bool{
	"_id":        true,
	"id":         true,
	"updated_at": true,
	"synced_at":  true,
}

type ConflictService interface {
	// Detect returns the fields whose remote and local values differ.
	Detect(remote, local map[string]interface{}) []FieldConflict

	// Resolve settles one record pair under the given policy. Every real
	// conflict is persisted as a ConflictRecord for audit.
	Resolve(ctx context.Context, module, recordID string, remote, local map[string]interface{}, policy Policy) (Resolution, error)

	// ResolveManual applies an operator's chosen values to a queued
	// conflict. Resolving an already-resolved conflict is a no-op that
	// returns the stored resolution.
	ResolveManual(ctx context.Context, conflictID string, chosen map[string]interface{}) (*ConflictRecord, error)

	ListConflicts(ctx context.Context, status ConflictStatus, limit int64) ([]ConflictRecord, error)
}

type ConflictServiceImpl struct {
	Repo       ConflictRepository
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger
}

func NewConflictService(repo ConflictRepository, dispatcher *events.Dispatcher, logger *zap.Logger) ConflictService {
	return &ConflictServiceImpl{
		Repo:       repo,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

func (s *ConflictServiceImpl) Detect(remote, local map[string]interface{}) []FieldConflict {
	keys := map[string]bool{}
	for k := range remote {
		keys[k] = true
	}
	for k := range local {
		keys[k] = true
	}

	var conflicts []FieldConflict
	for k := range keys {
		if volatileFields[k] {
			continue
		}
		rv, rok := remote[k]
		lv, lok := local[k]
		if rok && lok && reflect.DeepEqual(rv, lv) {
			continue
		}
		if !rok && !lok {
			continue
		}
		conflicts = append(conflicts, FieldConflict{Field: k, Remote: rv, Local: lv})
	}

	// Deterministic order keeps resolution and audit output stable
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Field < conflicts[j].Field })
	return conflicts
}

func (s *ConflictServiceImpl) Resolve(ctx context.Context, module, recordID string, remote, local map[string]interface{}, policy Policy) (Resolution, error) {
	if !policy.Valid() {
		return Resolution{}, apperrors.Newf(apperrors.CodeValidation, "unknown conflict policy %q", policy)
	}

	fields := s.Detect(remote, local)
	if len(fields) == 0 {
		return Resolution{Merged: cloneMap(local), Conflicted: false}, nil
	}

	if policy == PolicyManual {
		return s.queueManual(ctx, module, recordID, fields, remote, local)
	}

	merged := s.applyPolicy(policy, fields, remote, local)

	now := time.Now()
	record := &ConflictRecord{
		Module:     module,
		RecordID:   recordID,
		Fields:     fields,
		Policy:     policy,
		Suggested:  merged,
		Final:      merged,
		Resolver:   ResolverAutomatic,
		Status:     StatusResolved,
		ResolvedAt: &now,
	}
	if err := s.Repo.Create(ctx, record); err != nil {
		return Resolution{}, err
	}

	s.Dispatcher.Publish(events.Event{
		Type:     events.ConflictDetected,
		Module:   module,
		RecordID: recordID,
		Payload: map[string]interface{}{
			"fields":   len(fields),
			"policy":   string(policy),
			"resolver": string(ResolverAutomatic),
		},
	})

	return Resolution{Merged: merged, Conflicted: true}, nil
}

func (s *ConflictServiceImpl) queueManual(ctx context.Context, module, recordID string, fields []FieldConflict, remote, local map[string]interface{}) (Resolution, error) {
	// One pending conflict per record: re-detecting while queued must not
	// create a duplicate.
	existing, err := s.Repo.FindPending(ctx, module, recordID)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		return Resolution{Pending: true, Conflicted: true}, nil
	}

	record := &ConflictRecord{
		Module:    module,
		RecordID:  recordID,
		Fields:    fields,
		Policy:    PolicyManual,
		Suggested: s.applyPolicy(PolicyMerge, fields, remote, local),
		Status:    StatusPending,
	}
	if err := s.Repo.Create(ctx, record); err != nil {
		return Resolution{}, err
	}

	s.Dispatcher.Publish(events.Event{
		Type:     events.ConflictDetected,
		Module:   module,
		RecordID: recordID,
		Payload: map[string]interface{}{
			"fields": len(fields),
			"policy": string(PolicyManual),
			"queued": true,
		},
	})

	return Resolution{Pending: true, Conflicted: true}, nil
}

// applyPolicy computes the merged record for an automatic policy.
func (s *ConflictServiceImpl) applyPolicy(policy Policy, fields []FieldConflict, remote, local map[string]interface{}) map[string]interface{} {
	switch policy {
	case PolicyRemoteWins:
		return cloneMap(remote)
	case PolicyLocalWins:
		return cloneMap(local)
	}

	// merge: union of both sides; conflicting fields go to the version
	// with the newer modification timestamp, ties to remote.
	merged := cloneMap(local)
	for k, v := range remote {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}

	remoteNewer := !modifiedAt(remote).Before(modifiedAt(local))
	for _, fc := range fields {
		if remoteNewer {
			merged[fc.Field] = fc.Remote
		} else {
			merged[fc.Field] = fc.Local
		}
	}
	return merged
}

func (s *ConflictServiceImpl) ResolveManual(ctx context.Context, conflictID string, chosen map[string]interface{}) (*ConflictRecord, error) {
	record, err := s.Repo.Get(ctx, conflictID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "conflict not found", err)
	}

	if record.Status == StatusResolved {
		// Idempotent: the stored resolution stands
		return record, nil
	}

	final := chosen
	if final == nil {
		final = record.Suggested
	}

	now := time.Now()
	updates := map[string]interface{}{
		"final":       final,
		"status":      StatusResolved,
		"resolver":    ResolverManual,
		"resolved_at": now,
	}
	if err := s.Repo.Update(ctx, conflictID, updates); err != nil {
		return nil, err
	}

	record.Final = final
	record.Status = StatusResolved
	record.Resolver = ResolverManual
	record.ResolvedAt = &now

	s.Logger.Info("conflict resolved manually",
		zap.String("module", record.Module),
		zap.String("record_id", record.RecordID),
	)
	return record, nil
}

func (s *ConflictServiceImpl) ListConflicts(ctx context.Context, status ConflictStatus, limit int64) ([]ConflictRecord, error) {
	filter := map[string]interface{}{}
	if status != "" {
		filter["status"] = status
	}
	return s.Repo.List(ctx, filter, limit)
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// modifiedAt extracts the record's modification timestamp from the usual
// CRM field names; zero time when absent.
func modifiedAt(record map[string]interface{}) time.Time {
	for _, key := range []string{"modified_at", "modified_time", "updated_at"} {
		switch v := record[key].(type) {
		case time.Time:
			return v
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
