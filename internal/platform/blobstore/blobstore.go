// Package blobstore stores uploaded fundus images. It defines the BlobStore
// interface with an in-memory backend for tests and development and a
// filesystem backend for single-node deployments.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
	ErrInvalidKey         = errors.New("invalid blob key")
)

// DefaultMaxSize applies when a store is created with a non-positive limit.
const DefaultMaxSize = 10 << 20

// AllowedContentTypes maps accepted image MIME types to the file extension
// used for the stored object.
var AllowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// BlobMetadata describes a stored image.
type BlobMetadata struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	PatientID   string    `json:"patient_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PutRequest carries the caller-supplied attributes of a new image.
type PutRequest struct {
	FileName    string
	ContentType string
	PatientID   string
}

// BlobStore is implemented by every image backend.
type BlobStore interface {
	Put(ctx context.Context, req PutRequest, content io.Reader) (*BlobMetadata, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, key string) error
}

// readImage reads at most maxSize bytes and resolves the content type. A
// missing or generic declared type is replaced by the sniffed one; a
// declared type that disagrees with the sniffed one is rejected.
func readImage(content io.Reader, declared string, maxSize int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}

	sniffed := normalizeContentType(http.DetectContentType(data))
	ct := normalizeContentType(declared)
	if ct == "" || ct == "application/octet-stream" {
		ct = sniffed
	}
	if _, ok := AllowedContentTypes[ct]; !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	if ct != sniffed {
		return nil, "", fmt.Errorf("%w: declared %s but content is %s", ErrInvalidContentType, ct, sniffed)
	}
	return data, ct, nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

func newKey(contentType string) string {
	return uuid.NewString() + AllowedContentTypes[contentType]
}

// validKey accepts only keys produced by newKey: a bare file name with no
// separators.
func validKey(key string) bool {
	return key != "" && key == path.Base(key) && !strings.ContainsAny(key, `/\`) && key != "." && key != ".."
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type storedBlob struct {
	meta    BlobMetadata
	content []byte
}

// InMemoryBlobStore keeps images in a map. Safe for concurrent use.
type InMemoryBlobStore struct {
	maxSize int64

	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore(maxSize int64) *InMemoryBlobStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &InMemoryBlobStore{maxSize: maxSize, blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, req PutRequest, content io.Reader) (*BlobMetadata, error) {
	data, ct, err := readImage(content, req.ContentType, s.maxSize)
	if err != nil {
		return nil, err
	}

	meta := BlobMetadata{
		Key:         newKey(ct),
		FileName:    req.FileName,
		ContentType: ct,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		PatientID:   req.PatientID,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[meta.Key] = &storedBlob{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := b.meta
	return io.NopCloser(bytes.NewReader(b.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
