package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// callLogRetention bounds how long call audit documents are kept.
const callLogRetention = 90 * 24 * time.Hour

func EnsureMongoIndexes(ctx context.Context) error {
	db := MongoDatabase()
	if db == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	calls := db.Collection("call_sessions")
	_, err := calls.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_session_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "caller_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_caller_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_status_created"),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_created_at").
				SetExpireAfterSeconds(int32(callLogRetention.Seconds())),
		},
	})
	return err
}
