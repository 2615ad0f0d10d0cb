package conflict

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Policy decides how field-level divergence between the remote and local
// versions of a record is settled.
type Policy string

const (
	PolicyRemoteWins Policy = "remote_wins"
	PolicyLocalWins  Policy = "local_wins"
	PolicyMerge      Policy = "merge"
	PolicyManual     Policy = "manual"
)

func (p Policy) Valid() bool {
	switch p {
	case PolicyRemoteWins, PolicyLocalWins, PolicyMerge, PolicyManual:
		return true
	}
	return false
}

type Resolver string

const (
	ResolverAutomatic Resolver = "automatic"
	ResolverManual    Resolver = "manual"
)

type ConflictStatus string

const (
	StatusPending  ConflictStatus = "pending"
	StatusResolved ConflictStatus = "resolved"
)

// FieldConflict is one field whose remote and local values disagree.
type FieldConflict struct {
	Field  string      `json:"field" bson:"field"`
	Remote interface{} `json:"remote" bson:"remote"`
	Local  interface{} `json:"local" bson:"local"`
}

// ConflictRecord is the audit trail of one detected conflict, written for
// every resolution regardless of policy.
type ConflictRecord struct {
	ID         primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Module     string                 `json:"module" bson:"module"`
	RecordID   string                 `json:"record_id" bson:"record_id"`
	Fields     []FieldConflict        `json:"fields" bson:"fields"`
	Policy     Policy                 `json:"policy" bson:"policy"`
	Suggested  map[string]interface{} `json:"suggested,omitempty" bson:"suggested,omitempty"`
	Final      map[string]interface{} `json:"final,omitempty" bson:"final,omitempty"`
	Resolver   Resolver               `json:"resolver,omitempty" bson:"resolver,omitempty"`
	Status     ConflictStatus         `json:"status" bson:"status"`
	CreatedAt  time.Time              `json:"created_at" bson:"created_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// Resolution is the outcome handed back to the sync orchestrator.
type Resolution struct {
	// Merged is the record to apply. Nil when Pending.
	Merged map[string]interface{}

	// Pending marks a manual-policy conflict queued for an operator;
	// the record stays un-synced until it is resolved.
	Pending bool

	// Conflicted reports whether any field actually diverged.
	Conflicted bool
}
