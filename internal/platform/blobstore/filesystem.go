package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileSystemBlobStore writes each image to its own file under dir. The
// content type is recovered from the file extension on read.
type FileSystemBlobStore struct {
	dir     string
	maxSize int64
}

// NewFileSystemBlobStore creates dir if needed.
func NewFileSystemBlobStore(dir string, maxSize int64) (*FileSystemBlobStore, error) {
	if dir == "" {
		return nil, errors.New("blobstore: directory is required")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileSystemBlobStore{dir: dir, maxSize: maxSize}, nil
}

func (s *FileSystemBlobStore) Put(_ context.Context, req PutRequest, content io.Reader) (*BlobMetadata, error) {
	data, ct, err := readImage(content, req.ContentType, s.maxSize)
	if err != nil {
		return nil, err
	}

	key := newKey(ct)
	final := filepath.Join(s.dir, key)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fmt.Errorf("move image into place: %w", err)
	}

	return &BlobMetadata{
		Key:         key,
		FileName:    req.FileName,
		ContentType: ct,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		PatientID:   req.PatientID,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *FileSystemBlobStore) Get(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat image: %w", err)
	}

	return f, &BlobMetadata{
		Key:         key,
		FileName:    key,
		ContentType: contentTypeForExt(filepath.Ext(key)),
		Size:        info.Size(),
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FileSystemBlobStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func (s *FileSystemBlobStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

func contentTypeForExt(ext string) string {
	for ct, e := range AllowedContentTypes {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}
