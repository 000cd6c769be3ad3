package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client

// InitMongo connects the call log store. MONGO_URI unset means the call log is
// disabled, which callers treat as optional.
func InitMongo(ctx context.Context) error {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return errors.New("MONGO_URI environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri).
		SetAppName("yoocall").
		SetServerSelectionTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(20).
		SetMinPoolSize(1)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	MongoClient = client
	return nil
}

// MongoDatabase returns the configured database (MONGO_DB, default "yoocall").
func MongoDatabase() *mongo.Database {
	if MongoClient == nil {
		return nil
	}
	name := os.Getenv("MONGO_DB")
	if name == "" {
		name = "yoocall"
	}
	return MongoClient.Database(name)
}
