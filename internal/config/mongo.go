package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, cfg *Config) error {
	db := client.Database(cfg.DBName)

	// Ingest audit collection indexes
	auditCollection := db.Collection("ingest_audit")
	auditIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "session_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}
	_, err := auditCollection.Indexes().CreateMany(context.Background(), auditIndexes)
	if err != nil {
		return err
	}

	// Backup bundle files (GridFS files collection): latest-bundle lookup
	// filters on metadata.session_key and sorts by uploadDate.
	backupFiles := db.Collection(cfg.BackupBucket + ".files")
	backupIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "metadata.session_key", Value: 1}, {Key: "uploadDate", Value: -1}},
		},
	}
	_, err = backupFiles.Indexes().CreateMany(context.Background(), backupIndexes)
	if err != nil {
		return err
	}

	return nil
}
