// Package remote is the single owned path to the external CRM's REST API.
// No other component talks to the CRM directly; every call here passes
// through the shared rate limiter and the circuit breaker.
package remote

import (
	"context"
	"time"
)

// Record is one logical CRM record as exchanged with the remote system.
type Record struct {
	ID         string                 `json:"id"`
	Module     string                 `json:"module"`
	Fields     map[string]interface{} `json:"fields"`
	ModifiedAt time.Time              `json:"modified_at"`
}

// Subscription describes one module's webhook registration with the CRM.
type Subscription struct {
	Module     string   `json:"module"`
	NotifyURL  string   `json:"notify_url"`
	Operations []string `json:"operations"`
	Secret     string   `json:"secret"`
}

type Client interface {
	// ListChangedRecords returns records in module modified after since.
	ListChangedRecords(ctx context.Context, module string, since time.Time) ([]Record, error)

	// ListDeletedIDs returns ids of records deleted in module after since.
	ListDeletedIDs(ctx context.Context, module string, since time.Time) ([]string, error)

	GetRecord(ctx context.Context, module, id string) (*Record, error)
	UpsertRecord(ctx context.Context, module string, rec Record) error
	DeleteRecord(ctx context.Context, module, id string) error

	// RegisterWebhook upserts the module's change subscription. Called once
	// at startup, not part of the steady-state data path.
	RegisterWebhook(ctx context.Context, sub Subscription) error
}
