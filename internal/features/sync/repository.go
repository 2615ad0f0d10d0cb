package sync

import (
	"context"
	"time"

	"go-crmsync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SyncRepository interface {
	// Passes
	CreatePass(ctx context.Context, pass *SyncPass) error
	UpdatePass(ctx context.Context, id string, updates map[string]interface{}) error
	GetPass(ctx context.Context, id string) (*SyncPass, error)
	ListPasses(ctx context.Context, filter map[string]interface{}, limit int64) ([]SyncPass, error)

	// Cursors
	GetCursor(ctx context.Context, module string) (*SyncCursor, error)
	SaveCursor(ctx context.Context, cursor *SyncCursor) error
	ListCursors(ctx context.Context) ([]SyncCursor, error)

	// Local record store
	GetLocalRecord(ctx context.Context, module, recordID string) (*LocalRecord, error)
	UpsertLocalRecord(ctx context.Context, record *LocalRecord) error
	DeleteLocalRecord(ctx context.Context, module, recordID string) error
	ListLocalChangedSince(ctx context.Context, module string, since time.Time) ([]LocalRecord, error)
	ListLocalRecords(ctx context.Context, module string, limit int64) ([]LocalRecord, error)
	CountLocalRecords(ctx context.Context, module string) (int64, error)

	// Module schemas
	GetSchema(ctx context.Context, module string) (*ModuleSchema, error)
	SaveSchema(ctx context.Context, schema *ModuleSchema) error
}

type SyncRepositoryImpl struct {
	passes  *mongo.Collection
	cursors *mongo.Collection
	records *mongo.Collection
	schemas *mongo.Collection
}

func NewSyncRepository(db *database.MongodbDB) SyncRepository {
	return &SyncRepositoryImpl{
		passes:  db.DB.Collection("sync_passes"),
		cursors: db.DB.Collection("sync_cursors"),
		records: db.DB.Collection("local_records"),
		schemas: db.DB.Collection("module_schemas"),
	}
}

func (r *SyncRepositoryImpl) CreatePass(ctx context.Context, pass *SyncPass) error {
	_, err := r.passes.InsertOne(ctx, pass)
	return err
}

func (r *SyncRepositoryImpl) UpdatePass(ctx context.Context, id string, updates map[string]interface{}) error {
	_, err := r.passes.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	return err
}

func (r *SyncRepositoryImpl) GetPass(ctx context.Context, id string) (*SyncPass, error) {
	var pass SyncPass
	if err := r.passes.FindOne(ctx, bson.M{"_id": id}).Decode(&pass); err != nil {
		return nil, err
	}
	return &pass, nil
}

func (r *SyncRepositoryImpl) ListPasses(ctx context.Context, filter map[string]interface{}, limit int64) ([]SyncPass, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit)

	cursor, err := r.passes.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var passes []SyncPass
	if err = cursor.All(ctx, &passes); err != nil {
		return nil, err
	}
	return passes, nil
}

func (r *SyncRepositoryImpl) GetCursor(ctx context.Context, module string) (*SyncCursor, error) {
	var cur SyncCursor
	err := r.cursors.FindOne(ctx, bson.M{"_id": module}).Decode(&cur)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

func (r *SyncRepositoryImpl) SaveCursor(ctx context.Context, cursor *SyncCursor) error {
	cursor.UpdatedAt = time.Now()
	opts := options.Replace().SetUpsert(true)
	_, err := r.cursors.ReplaceOne(ctx, bson.M{"_id": cursor.Module}, cursor, opts)
	return err
}

func (r *SyncRepositoryImpl) ListCursors(ctx context.Context) ([]SyncCursor, error) {
	cursor, err := r.cursors.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []SyncCursor
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SyncRepositoryImpl) GetLocalRecord(ctx context.Context, module, recordID string) (*LocalRecord, error) {
	var rec LocalRecord
	err := r.records.FindOne(ctx, bson.M{"module": module, "record_id": recordID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SyncRepositoryImpl) UpsertLocalRecord(ctx context.Context, record *LocalRecord) error {
	record.SyncedAt = time.Now()
	opts := options.Replace().SetUpsert(true)
	_, err := r.records.ReplaceOne(ctx, bson.M{"module": record.Module, "record_id": record.RecordID}, record, opts)
	return err
}

func (r *SyncRepositoryImpl) DeleteLocalRecord(ctx context.Context, module, recordID string) error {
	_, err := r.records.DeleteOne(ctx, bson.M{"module": module, "record_id": recordID})
	return err
}

func (r *SyncRepositoryImpl) ListLocalChangedSince(ctx context.Context, module string, since time.Time) ([]LocalRecord, error) {
	cursor, err := r.records.Find(ctx, bson.M{
		"module":      module,
		"modified_at": bson.M{"$gt": since},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []LocalRecord
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListLocalRecords returns up to limit records for a module; limit <= 0
// means no limit.
func (r *SyncRepositoryImpl) ListLocalRecords(ctx context.Context, module string, limit int64) ([]LocalRecord, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.records.Find(ctx, bson.M{"module": module}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []LocalRecord
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SyncRepositoryImpl) CountLocalRecords(ctx context.Context, module string) (int64, error) {
	return r.records.CountDocuments(ctx, bson.M{"module": module})
}

func (r *SyncRepositoryImpl) GetSchema(ctx context.Context, module string) (*ModuleSchema, error) {
	var schema ModuleSchema
	err := r.schemas.FindOne(ctx, bson.M{"_id": module}).Decode(&schema)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

func (r *SyncRepositoryImpl) SaveSchema(ctx context.Context, schema *ModuleSchema) error {
	schema.UpdatedAt = time.Now()
	opts := options.Replace().SetUpsert(true)
	_, err := r.schemas.ReplaceOne(ctx, bson.M{"_id": schema.Module}, schema, opts)
	return err
}
