package webhook

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EventStatus string

const (
	EventReceived   EventStatus = "received"
	EventFiltered   EventStatus = "filtered"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// ChangeEvent is one inbound webhook notification after signature and
// format checks. It stays queryable for a bounded retention window.
type ChangeEvent struct {
	ID         string                 `json:"id" bson:"_id"`
	Module     string                 `json:"module" bson:"module"`
	Operation  string                 `json:"operation" bson:"operation"`
	RecordID   string                 `json:"recordId" bson:"record_id"`
	Data       map[string]interface{} `json:"data" bson:"data"`
	ReceivedAt time.Time              `json:"receivedAt" bson:"received_at"`
	Status     EventStatus            `json:"status" bson:"status"`
	RetryCount int                    `json:"retryCount" bson:"retry_count"`
	LastError  string                 `json:"lastError,omitempty" bson:"last_error,omitempty"`
	BatchID    string                 `json:"batchId,omitempty" bson:"batch_id,omitempty"`
}

// EventBatch groups accepted events per module. A batch closes when it
// reaches MaxSize or when the batch timeout elapses, and is immutable
// once completed.
type EventBatch struct {
	ID          string      `json:"id" bson:"_id"`
	Module      string      `json:"module" bson:"module"`
	EventIDs    []string    `json:"eventIds" bson:"event_ids"`
	MaxSize     int         `json:"maxSize" bson:"max_size"`
	CreatedAt   time.Time   `json:"createdAt" bson:"created_at"`
	CompletedAt *time.Time  `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
	Status      BatchStatus `json:"status" bson:"status"`
}

// EventFilter gates events before they reach a batch. An event in the
// filter's module/operation scope must satisfy the optional predicate
// (a script over the payload yielding a boolean "keep"); otherwise it
// is marked filtered and never processed.
type EventFilter struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name       string             `json:"name" bson:"name"`
	Module     string             `json:"module" bson:"module"`
	Operations []string           `json:"operations" bson:"operations"`
	Predicate  string             `json:"predicate,omitempty" bson:"predicate,omitempty"`
	Active     bool               `json:"active" bson:"active"`
	CreatedAt  time.Time          `json:"createdAt" bson:"created_at"`
}

// AppliesTo reports whether the filter's module/operation scope covers
// the event. An empty operation list covers all operations.
func (f *EventFilter) AppliesTo(module, operation string) bool {
	if !f.Active || f.Module != module {
		return false
	}
	if len(f.Operations) == 0 {
		return true
	}
	for _, op := range f.Operations {
		if op == operation {
			return true
		}
	}
	return false
}

// IngestMetrics is the running counter set for the ingestion pipeline.
type IngestMetrics struct {
	Received     int64   `json:"received"`
	Filtered     int64   `json:"filtered"`
	Processed    int64   `json:"processed"`
	Failed       int64   `json:"failed"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	OpenBatches  int     `json:"openBatches"`
}

// InboundResult is what the webhook endpoint reports back to the remote
// system.
type InboundResult struct {
	Status  EventStatus `json:"status"`
	EventID string      `json:"eventId"`
}
