package conflict

import (
	"context"
	"time"

	"go-crmsync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ConflictRepository interface {
	Create(ctx context.Context, record *ConflictRecord) error
	Get(ctx context.Context, id string) (*ConflictRecord, error)
	FindPending(ctx context.Context, module, recordID string) (*ConflictRecord, error)
	List(ctx context.Context, filter map[string]interface{}, limit int64) ([]ConflictRecord, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
}

type ConflictRepositoryImpl struct {
	collection *mongo.Collection
}

func NewConflictRepository(db *database.MongodbDB) ConflictRepository {
	return &ConflictRepositoryImpl{
		collection: db.DB.Collection("conflict_records"),
	}
}

func (r *ConflictRepositoryImpl) Create(ctx context.Context, record *ConflictRecord) error {
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	record.CreatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, record)
	return err
}

func (r *ConflictRepositoryImpl) Get(ctx context.Context, id string) (*ConflictRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var record ConflictRecord
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ConflictRepositoryImpl) FindPending(ctx context.Context, module, recordID string) (*ConflictRecord, error) {
	var record ConflictRecord
	err := r.collection.FindOne(ctx, bson.M{
		"module":    module,
		"record_id": recordID,
		"status":    StatusPending,
	}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ConflictRepositoryImpl) List(ctx context.Context, filter map[string]interface{}, limit int64) ([]ConflictRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []ConflictRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *ConflictRepositoryImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.collection.UpdateOne(
		ctx,
		bson.M{"_id": oid},
		bson.M{"$set": updates},
	)
	return err
}
