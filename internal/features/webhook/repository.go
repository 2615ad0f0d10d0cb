package webhook

import (
	"context"
	"time"

	"go-crmsync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type WebhookRepository interface {
	// Events
	CreateEvent(ctx context.Context, event *ChangeEvent) error
	UpdateEvent(ctx context.Context, id string, updates map[string]interface{}) error
	ListEvents(ctx context.Context, filter map[string]interface{}, limit int64) ([]ChangeEvent, error)
	EvictEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Batches
	CreateBatch(ctx context.Context, batch *EventBatch) error
	UpdateBatch(ctx context.Context, id string, updates map[string]interface{}) error
	ListBatches(ctx context.Context, filter map[string]interface{}, limit int64) ([]EventBatch, error)

	// Filters
	CreateFilter(ctx context.Context, filter *EventFilter) error
	ListFilters(ctx context.Context) ([]EventFilter, error)
	UpdateFilter(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteFilter(ctx context.Context, id string) error
}

type WebhookRepositoryImpl struct {
	events  *mongo.Collection
	batches *mongo.Collection
	filters *mongo.Collection
}

func NewWebhookRepository(db *database.MongodbDB) WebhookRepository {
	return &WebhookRepositoryImpl{
		events:  db.DB.Collection("change_events"),
		batches: db.DB.Collection("event_batches"),
		filters: db.DB.Collection("webhook_filters"),
	}
}

func (r *WebhookRepositoryImpl) CreateEvent(ctx context.Context, event *ChangeEvent) error {
	_, err := r.events.InsertOne(ctx, event)
	return err
}

func (r *WebhookRepositoryImpl) UpdateEvent(ctx context.Context, id string, updates map[string]interface{}) error {
	_, err := r.events.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	return err
}

func (r *WebhookRepositoryImpl) ListEvents(ctx context.Context, filter map[string]interface{}, limit int64) ([]ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(limit)

	cursor, err := r.events.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []ChangeEvent
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EvictEventsBefore removes events past the retention window, along with
// their completed batches.
func (r *WebhookRepositoryImpl) EvictEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.events.DeleteMany(ctx, bson.M{"received_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}

	_, err = r.batches.DeleteMany(ctx, bson.M{
		"created_at": bson.M{"$lt": cutoff},
		"status":     bson.M{"$in": []BatchStatus{BatchCompleted, BatchFailed}},
	})
	return res.DeletedCount, err
}

func (r *WebhookRepositoryImpl) CreateBatch(ctx context.Context, batch *EventBatch) error {
	_, err := r.batches.InsertOne(ctx, batch)
	return err
}

func (r *WebhookRepositoryImpl) UpdateBatch(ctx context.Context, id string, updates map[string]interface{}) error {
	_, err := r.batches.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	return err
}

func (r *WebhookRepositoryImpl) ListBatches(ctx context.Context, filter map[string]interface{}, limit int64) ([]EventBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := r.batches.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []EventBatch
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WebhookRepositoryImpl) CreateFilter(ctx context.Context, filter *EventFilter) error {
	if filter.ID.IsZero() {
		filter.ID = primitive.NewObjectID()
	}
	filter.CreatedAt = time.Now()

	_, err := r.filters.InsertOne(ctx, filter)
	return err
}

func (r *WebhookRepositoryImpl) ListFilters(ctx context.Context) ([]EventFilter, error) {
	cursor, err := r.filters.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []EventFilter
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WebhookRepositoryImpl) UpdateFilter(ctx context.Context, id string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.filters.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": updates})
	return err
}

func (r *WebhookRepositoryImpl) DeleteFilter(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.filters.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}
