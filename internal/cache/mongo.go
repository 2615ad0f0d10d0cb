package cache

import (
	"context"
	"time"

	"go-crmsync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type cacheEntry struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	Counter   int64     `bson:"counter"`
	Owner     string    `bson:"owner,omitempty"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoCache backs the Cache interface with a TTL-indexed collection.
type MongoCache struct {
	collection *mongo.Collection
}

func NewMongoCache(db *database.MongodbDB) Cache {
	return &MongoCache{
		collection: db.DB.Collection("cache_entries"),
	}
}

// EnsureIndexes creates the TTL index that evicts expired entries.
func (c *MongoCache) EnsureIndexes(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (c *MongoCache) Get(ctx context.Context, key string) (string, error) {
	var entry cacheEntry
	err := c.collection.FindOne(ctx, bson.M{
		"_id":        key,
		"expires_at": bson.M{"$gt": time.Now()},
	}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (c *MongoCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := c.collection.UpdateOne(
		ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"value":      value,
			"expires_at": time.Now().Add(ttl),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (c *MongoCache) Delete(ctx context.Context, key string) error {
	_, err := c.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (c *MongoCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var entry cacheEntry
	err := c.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": key},
		bson.M{
			"$inc":         bson.M{"counter": 1},
			"$setOnInsert": bson.M{"expires_at": time.Now().Add(ttl)},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&entry)
	if err != nil {
		return 0, err
	}
	return entry.Counter, nil
}

func (c *MongoCache) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := c.collection.UpdateOne(
		ctx,
		bson.M{
			"_id": key,
			"$or": bson.A{
				bson.M{"owner": ""},
				bson.M{"owner": owner},
				bson.M{"expires_at": bson.M{"$lte": now}},
			},
		},
		bson.M{"$set": bson.M{
			"owner":      owner,
			"expires_at": now.Add(ttl),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Upsert raced or the lock is held by someone else
			return false, nil
		}
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

func (c *MongoCache) ReleaseLock(ctx context.Context, key, owner string) error {
	_, err := c.collection.DeleteOne(ctx, bson.M{"_id": key, "owner": owner})
	return err
}
