package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"newsjunkies/gateway"
)

const blobTimeout = 30 * time.Second

// GridFSBlobs хранит файлы (аватарки) в GridFS, по бакету на каждое имя
type GridFSBlobs struct {
	client    *mongo.Client
	database  *mongo.Database
	publicURL string

	mu      sync.Mutex
	buckets map[string]*gridfs.Bucket
}

func NewGridFSBlobs(ctx context.Context, uri, dbName, publicURL string) (*GridFSBlobs, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	glog.Infof("GridFS blob storage: %s/%s", uri, dbName)
	return &GridFSBlobs{
		client:    client,
		database:  client.Database(dbName),
		publicURL: strings.TrimRight(publicURL, "/"),
		buckets:   map[string]*gridfs.Bucket{},
	}, nil
}

func (b *GridFSBlobs) bucket(name string) (*gridfs.Bucket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bucket, ok := b.buckets[name]; ok {
		return bucket, nil
	}
	bucket, err := gridfs.NewBucket(b.database, options.GridFSBucket().SetName(name))
	if err != nil {
		return nil, err
	}
	b.buckets[name] = bucket
	return bucket, nil
}

// URL - публичный адрес файла, отдается через /media/<bucket>/<path>
func (b *GridFSBlobs) URL(bucket, path string) string {
	return b.publicURL + "/media/" + bucket + "/" + path
}

func (b *GridFSBlobs) UploadBlob(ctx context.Context, bucketName, path string, data []byte) (string, error) {
	bucket, err := b.bucket(bucketName)
	if err != nil {
		return "", err
	}
	if err := bucket.SetWriteDeadline(deadline(ctx)); err != nil {
		return "", err
	}
	if _, err := bucket.UploadFromStream(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucketName, path, err)
	}
	return b.URL(bucketName, path), nil
}

// DeleteBlob удаляет все ревизии файла
func (b *GridFSBlobs) DeleteBlob(ctx context.Context, bucketName, path string) error {
	bucket, err := b.bucket(bucketName)
	if err != nil {
		return err
	}
	cursor, err := bucket.FindContext(ctx, bson.M{"filename": path})
	if err != nil {
		return fmt.Errorf("find %s/%s: %w", bucketName, path, err)
	}
	var files []struct {
		ID any `bson:"_id"`
	}
	if err := cursor.All(ctx, &files); err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("blob %s/%s: %w", bucketName, path, gateway.ErrNotFound)
	}
	for _, f := range files {
		if err := bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("delete %s/%s: %w", bucketName, path, err)
		}
	}
	return nil
}

// OpenBlob пишет последнюю ревизию файла в w
func (b *GridFSBlobs) OpenBlob(ctx context.Context, bucketName, path string, w io.Writer) error {
	bucket, err := b.bucket(bucketName)
	if err != nil {
		return err
	}
	if err := bucket.SetReadDeadline(deadline(ctx)); err != nil {
		return err
	}
	if _, err := bucket.DownloadToStreamByName(path, w); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("blob %s/%s: %w", bucketName, path, gateway.ErrNotFound)
		}
		return err
	}
	return nil
}

func (b *GridFSBlobs) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(blobTimeout)
}
