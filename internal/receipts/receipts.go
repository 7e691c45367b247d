// Package receipts stores receipt files attached to driver payments and
// maintenance tickets.
package receipts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrEmpty is returned when an empty file is stored.
var ErrEmpty = errors.New("receipt is empty")

// Receipt locates a stored file.
type Receipt struct {
	URL string `json:"url"`
	Ref string `json:"ref"`
}

// Store persists receipt files.
type Store interface {
	Store(ctx context.Context, data []byte, folder string) (Receipt, error)
}

// GridFSStore keeps receipts in a MongoDB GridFS bucket.
type GridFSStore struct {
	bucket *gridfs.Bucket
	name   string
}

// NewGridFSStore opens the named bucket in db.
func NewGridFSStore(db *mongo.Database, bucketName string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket %s: %w", bucketName, err)
	}
	return &GridFSStore{bucket: bucket, name: bucketName}, nil
}

// Store uploads data under folder.
func (s *GridFSStore) Store(ctx context.Context, data []byte, folder string) (Receipt, error) {
	if len(data) == 0 {
		return Receipt{}, ErrEmpty
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return Receipt{}, err
		}
	}
	filename := folder + "/" + uuid.NewString()
	opts := options.GridFSUpload().SetMetadata(bson.M{
		"folder":       folder,
		"content_type": http.DetectContentType(data),
	})
	id, err := s.bucket.UploadFromStream(filename, bytes.NewReader(data), opts)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to upload receipt: %w", err)
	}
	return Receipt{
		URL: fmt.Sprintf("gridfs://%s/%s", s.name, filename),
		Ref: id.Hex(),
	}, nil
}

// MemoryStore keeps receipts in memory.
type MemoryStore struct {
	mu    sync.Mutex
	files map[string][]byte

	// Err, when set, is returned by every Store call.
	Err error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: map[string][]byte{}}
}

// Store implements Store.
func (s *MemoryStore) Store(_ context.Context, data []byte, folder string) (Receipt, error) {
	if s.Err != nil {
		return Receipt{}, s.Err
	}
	if len(data) == 0 {
		return Receipt{}, ErrEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := uuid.NewString()
	s.files[ref] = append([]byte(nil), data...)
	return Receipt{URL: "memory://" + folder + "/" + ref, Ref: ref}, nil
}

// Get returns a stored file.
func (s *MemoryStore) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[ref]
	return data, ok
}
