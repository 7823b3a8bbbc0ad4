package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"voiceMemo/core"
)

// UploadResult describes a stored blob.
type UploadResult struct {
	DownloadURL string `json:"download_url"`
	FullPath    string `json:"full_path"`
	Size        int64  `json:"size"`
}

// BlobStore holds audio blobs: the durable memo recordings and the
// temporary objects long-running recognition reads from.
type BlobStore interface {
	Upload(ctx context.Context, ownerID string, data []byte, filename string) (*UploadResult, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	// URI returns the provider-native locator for path (gs:// for GCS),
	// which the long-running recognizer consumes.
	URI(path string) string
	Ping(ctx context.Context) error
}

// ContentTypeForAudio maps an audio filename to its MIME type.
func ContentTypeForAudio(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".aac":
		return "audio/aac"
	case ".webm":
		return "audio/webm"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// ---------------- GCS implementation ----------------

type GCSBlobStore struct {
	client *gcs.Client
	bucket string
}

func NewGCSBlobStore(ctx context.Context, bucket string) (*GCSBlobStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

func (s *GCSBlobStore) Upload(ctx context.Context, ownerID string, data []byte, filename string) (*UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := fmt.Sprintf("audio/%s/%d_%s", ownerID, time.Now().UnixMilli(), sanitizeFilename(filename))
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentTypeForAudio(filename)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close blob writer %s: %w", key, err)
	}
	return &UploadResult{
		DownloadURL: fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key),
		FullPath:    key,
		Size:        int64(len(data)),
	}, nil
}

func (s *GCSBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", path, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSBlobStore) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(path).Delete(ctx); err != nil {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

func (s *GCSBlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, path)
}

func (s *GCSBlobStore) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// ---------------- Local-disk implementation (fallback) ----------------

// LocalBlobStore keeps blobs under a data directory. Used when no bucket is
// configured; URLs are filesystem paths, good enough for single-node runs.
type LocalBlobStore struct {
	root string
}

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if root == "" {
		root = filepath.Join(".", "data", "blobs")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalBlobStore{root: root}, nil
}

func (s *LocalBlobStore) Upload(ctx context.Context, ownerID string, data []byte, filename string) (*UploadResult, error) {
	dir := filepath.Join(s.root, ownerID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create owner dir: %w", err)
	}
	key := filepath.Join(ownerID, fmt.Sprintf("%s_%s", core.NewID()[:8], sanitizeFilename(filename)))
	full := filepath.Join(s.root, key)
	if err := os.WriteFile(full, data, 0644); err != nil {
		return nil, fmt.Errorf("write blob %s: %w", key, err)
	}
	return &UploadResult{DownloadURL: full, FullPath: key, Size: int64(len(data))}, nil
}

func (s *LocalBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, path))
}

func (s *LocalBlobStore) Delete(ctx context.Context, path string) error {
	return os.Remove(filepath.Join(s.root, path))
}

func (s *LocalBlobStore) URI(path string) string {
	return filepath.Join(s.root, path)
}

func (s *LocalBlobStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." {
		name = "audio"
	}
	return name
}
