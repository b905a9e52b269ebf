package storage

import (
	"errors"
	"fmt"
	"io"
	"os"

	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps backup bundles in a MongoDB GridFS bucket. Every upload
// is a new file; the latest version for a session is the one with the newest
// uploadDate.
type GridFSStore struct {
	bucket *gridfs.Bucket
}

func NewGridFSStore(db *mongo.Database, bucketName string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open GridFS bucket %s: %w", bucketName, err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

func (s *GridFSStore) Upload(ctx context.Context, localBundlePath, sessionKey string, metadata map[string]string) (string, error) {
	f, err := os.Open(localBundlePath)
	if err != nil {
		return "", fmt.Errorf("failed to open bundle %s: %w", localBundlePath, err)
	}
	defer f.Close()

	meta := bson.M{"session_key": sessionKey}
	for k, v := range metadata {
		meta[k] = v
	}

	filename := fmt.Sprintf("sessions/%s/%s.bundle", sessionKey, uuid.NewString())
	stream, err := s.bucket.OpenUploadStream(filename, options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return "", fmt.Errorf("failed to open upload stream: %w", err)
	}

	if _, err := io.Copy(stream, f); err != nil {
		stream.Close()
		return "", fmt.Errorf("failed to upload bundle: %w", err)
	}
	if err := stream.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	id, ok := stream.FileID.(primitive.ObjectID)
	if !ok {
		return filename, nil
	}
	return id.Hex(), nil
}

func (s *GridFSStore) DownloadLatest(ctx context.Context, sessionKey, localPath string) (bool, error) {
	var file struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	err := s.bucket.GetFilesCollection().FindOne(
		ctx,
		bson.M{"metadata.session_key": sessionKey},
		options.FindOne().SetSort(bson.D{{Key: "uploadDate", Value: -1}}),
	).Decode(&file)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up latest bundle: %w", err)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()

	stream, err := s.bucket.OpenDownloadStream(file.ID)
	if err != nil {
		return false, fmt.Errorf("failed to open download stream: %w", err)
	}
	defer stream.Close()

	if _, err := io.Copy(out, stream); err != nil {
		return false, fmt.Errorf("failed to download bundle: %w", err)
	}
	return true, nil
}
