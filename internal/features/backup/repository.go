package backup

import (
	"context"
	"time"

	"go-crmsync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BackupRepository interface {
	CreateBackup(ctx context.Context, meta *BackupMetadata) error
	UpdateBackup(ctx context.Context, id string, updates map[string]interface{}) error
	GetBackup(ctx context.Context, id string) (*BackupMetadata, error)
	ListBackups(ctx context.Context, filter map[string]interface{}, limit int64) ([]BackupMetadata, error)
	DeleteBackup(ctx context.Context, id string) error

	// LatestBackup returns the newest completed backup for a module, or
	// nil when the module has none.
	LatestBackup(ctx context.Context, module string) (*BackupMetadata, error)

	// FindBackupAt returns the newest completed backup for a module at
	// or before the given instant.
	FindBackupAt(ctx context.Context, module string, at time.Time) (*BackupMetadata, error)

	CreateRecoveryPoint(ctx context.Context, rp *RecoveryPoint) error
	ListRecoveryPoints(ctx context.Context, filter map[string]interface{}) ([]RecoveryPoint, error)
	DeleteRecoveryPointsByBackup(ctx context.Context, backupID string) error
}

type BackupRepositoryImpl struct {
	backups *mongo.Collection
	points  *mongo.Collection
}

func NewBackupRepository(db *database.MongodbDB) BackupRepository {
	return &BackupRepositoryImpl{
		backups: db.DB.Collection("backup_metadata"),
		points:  db.DB.Collection("recovery_points"),
	}
}

func (r *BackupRepositoryImpl) CreateBackup(ctx context.Context, meta *BackupMetadata) error {
	_, err := r.backups.InsertOne(ctx, meta)
	return err
}

func (r *BackupRepositoryImpl) UpdateBackup(ctx context.Context, id string, updates map[string]interface{}) error {
	_, err := r.backups.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	return err
}

func (r *BackupRepositoryImpl) GetBackup(ctx context.Context, id string) (*BackupMetadata, error) {
	var meta BackupMetadata
	if err := r.backups.FindOne(ctx, bson.M{"_id": id}).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListBackups returns backups newest first; limit <= 0 means no limit.
func (r *BackupRepositoryImpl) ListBackups(ctx context.Context, filter map[string]interface{}, limit int64) ([]BackupMetadata, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.backups.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []BackupMetadata
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BackupRepositoryImpl) DeleteBackup(ctx context.Context, id string) error {
	_, err := r.backups.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *BackupRepositoryImpl) LatestBackup(ctx context.Context, module string) (*BackupMetadata, error) {
	return r.findNewest(ctx, bson.M{"module": module, "status": StatusCompleted})
}

func (r *BackupRepositoryImpl) FindBackupAt(ctx context.Context, module string, at time.Time) (*BackupMetadata, error) {
	return r.findNewest(ctx, bson.M{
		"module":    module,
		"status":    StatusCompleted,
		"timestamp": bson.M{"$lte": at},
	})
}

func (r *BackupRepositoryImpl) findNewest(ctx context.Context, filter bson.M) (*BackupMetadata, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var meta BackupMetadata
	err := r.backups.FindOne(ctx, filter, opts).Decode(&meta)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *BackupRepositoryImpl) CreateRecoveryPoint(ctx context.Context, rp *RecoveryPoint) error {
	_, err := r.points.InsertOne(ctx, rp)
	return err
}

func (r *BackupRepositoryImpl) ListRecoveryPoints(ctx context.Context, filter map[string]interface{}) ([]RecoveryPoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	cursor, err := r.points.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []RecoveryPoint
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BackupRepositoryImpl) DeleteRecoveryPointsByBackup(ctx context.Context, backupID string) error {
	_, err := r.points.DeleteMany(ctx, bson.M{"backup_id": backupID})
	return err
}
