package backup

import (
	"time"
)

type BackupType string

const (
	BackupFull        BackupType = "full"
	BackupIncremental BackupType = "incremental"
)

type BackupStatus string

const (
	StatusPending    BackupStatus = "pending"
	StatusInProgress BackupStatus = "in_progress"
	StatusCompleted  BackupStatus = "completed"
	StatusFailed     BackupStatus = "failed"
)

// schemaVersion is the archive format version written into metadata.
const schemaVersion = 1

// BackupMetadata describes one backup invocation. Immutable after
// completion except for status/error on failure.
type BackupMetadata struct {
	ID             string       `json:"id" bson:"_id"`
	Type           BackupType   `json:"type" bson:"type"`
	Module         string       `json:"module" bson:"module"`
	BaseBackupID   string       `json:"baseBackupId,omitempty" bson:"base_backup_id,omitempty"`
	Timestamp      time.Time    `json:"timestamp" bson:"timestamp"`
	Size           int64        `json:"size" bson:"size"`
	CompressedSize int64        `json:"compressedSize" bson:"compressed_size"`
	Checksum       string       `json:"checksum" bson:"checksum"`
	RecordCount    int          `json:"recordCount" bson:"record_count"`
	DeletedCount   int          `json:"deletedCount" bson:"deleted_count"`
	SchemaVersion  int          `json:"schemaVersion" bson:"schema_version"`
	Status         BackupStatus `json:"status" bson:"status"`
	Error          string       `json:"error,omitempty" bson:"error,omitempty"`
	StorageKey     string       `json:"storageKey,omitempty" bson:"storage_key,omitempty"`
}

// RecoveryPoint is derived 1:1 from each successful backup that wrote a
// payload. It is deleted only together with its owning backup.
type RecoveryPoint struct {
	ID          string    `json:"id" bson:"_id"`
	BackupID    string    `json:"backupId" bson:"backup_id"`
	Module      string    `json:"module" bson:"module"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	RecordCount int       `json:"recordCount" bson:"record_count"`
	Recoverable bool      `json:"recoverable" bson:"recoverable"`
}

type RestorePolicy string

const (
	RestoreSkip      RestorePolicy = "skip"
	RestoreOverwrite RestorePolicy = "overwrite"
	RestoreMerge     RestorePolicy = "merge"
)

func (p RestorePolicy) Valid() bool {
	switch p {
	case RestoreSkip, RestoreOverwrite, RestoreMerge:
		return true
	}
	return false
}

// RestoreOptions selects a backup either directly by id or by module +
// point-in-time (latest completed backup at or before the instant).
type RestoreOptions struct {
	BackupID    string        `json:"backupId,omitempty"`
	Module      string        `json:"module,omitempty"`
	PointInTime *time.Time    `json:"pointInTime,omitempty"`
	RecordIDs   []string      `json:"recordIds,omitempty"`
	DryRun      bool          `json:"dryRun"`
	Policy      RestorePolicy `json:"policy"`
}

type RestoreResult struct {
	BackupID  string `json:"backupId"`
	Module    string `json:"module"`
	Restored  int    `json:"restored"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Conflicts int    `json:"conflicts"`
	DryRun    bool   `json:"dryRun"`
}
