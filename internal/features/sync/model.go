package sync

import (
	"time"

	common_models "go-crmsync/internal/common/models"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerWebhook   Trigger = "webhook"
)

type PassStatus string

const (
	PassRunning   PassStatus = "running"
	PassCompleted PassStatus = "completed"
	PassFailed    PassStatus = "failed"
)

// ValidationSummary is the data-quality report of a pass's optional
// schema check. Violations are recorded, never fatal.
type ValidationSummary struct {
	Checked    int      `json:"checked" bson:"checked"`
	Passed     int      `json:"passed" bson:"passed"`
	Failed     int      `json:"failed" bson:"failed"`
	Violations []string `json:"violations,omitempty" bson:"violations,omitempty"`
}

// SyncPass records one orchestrator invocation for one module.
type SyncPass struct {
	ID             string                      `json:"id" bson:"_id"`
	Module         string                      `json:"module" bson:"module"`
	Direction      common_models.SyncDirection `json:"direction" bson:"direction"`
	Trigger        Trigger                     `json:"trigger" bson:"trigger"`
	Full           bool                        `json:"full" bson:"full"`
	StartedAt      time.Time                   `json:"startedAt" bson:"started_at"`
	FinishedAt     *time.Time                  `json:"finishedAt,omitempty" bson:"finished_at,omitempty"`
	RecordsPulled  int                         `json:"recordsPulled" bson:"records_pulled"`
	RecordsPushed  int                         `json:"recordsPushed" bson:"records_pushed"`
	ConflictsFound int                         `json:"conflictsFound" bson:"conflicts_found"`
	Validation     *ValidationSummary          `json:"validation,omitempty" bson:"validation,omitempty"`
	Status         PassStatus                  `json:"status" bson:"status"`
	Error          string                      `json:"error,omitempty" bson:"error,omitempty"`
}

// SyncCursor is a module's delta watermark. LastPassAt bounds the next
// incremental pull; BaselineID points at the last completed full pass.
type SyncCursor struct {
	Module     string    `json:"module" bson:"_id"`
	LastPassAt time.Time `json:"lastPassAt" bson:"last_pass_at"`
	BaselineID string    `json:"baselineId,omitempty" bson:"baseline_id,omitempty"`
	BaselineAt time.Time `json:"baselineAt,omitempty" bson:"baseline_at,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updated_at"`
}

// LocalRecord is our copy of one CRM record.
type LocalRecord struct {
	Module     string                 `json:"module" bson:"module"`
	RecordID   string                 `json:"recordId" bson:"record_id"`
	Fields     map[string]interface{} `json:"fields" bson:"fields"`
	ModifiedAt time.Time              `json:"modifiedAt" bson:"modified_at"`
	SyncedAt   time.Time              `json:"syncedAt" bson:"synced_at"`
}

// ModuleSchema holds the JSON Schema used for a module's data-quality
// validation during sync passes.
type ModuleSchema struct {
	Module    string    `json:"module" bson:"_id"`
	Schema    string    `json:"schema" bson:"schema"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}
