package models

import (
	"time"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
)

// Operation is the change type carried by a webhook notification.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncDirection controls which side of a sync pass moves data:
// pull fetches remote changes, push sends local ones.
type SyncDirection string

const (
	DirectionPull          SyncDirection = "pull"
	DirectionPush          SyncDirection = "push"
	DirectionBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case DirectionPull, DirectionPush, DirectionBidirectional:
		return true
	}
	return false
}

// WebhookPayload is the body the remote CRM posts to our ingest endpoint.
type WebhookPayload struct {
	Module    string                 `json:"module"`
	Operation Operation              `json:"operation"`
	RecordID  string                 `json:"record_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Log is the document shape written by the async zap sink.
type Log struct {
	Message      string    `bson:"message" json:"message"`
	Caller       string    `bson:"caller" json:"caller"`
	AppId        string    `bson:"app_id" json:"app_id"`
	LogLevelId   int       `bson:"log_level_id" json:"log_level_id"`
	CreatedOnUtc time.Time `bson:"created_on_utc" json:"created_on_utc"`
}
