// Package persist writes the harvest artifacts and mirrors them to the
// optional external stores.
package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/hash/sha256"
	"github.com/JakeFAU/publication-harvester/internal/metrics"
	"github.com/JakeFAU/publication-harvester/internal/publication"
)

// Artifact file names.
const (
	LinksFile        = "publications_links.json"
	PublicationsFile = "publications.json"
)

const jsonContentType = "application/json; charset=utf-8"

// Sink stores a named artifact and returns where it landed.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// LocalSink writes artifacts into a directory.
type LocalSink struct {
	dir string
}

// NewLocalSink creates dir if needed.
func NewLocalSink(dir string) (*LocalSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return &LocalSink{dir: dir}, nil
}

// Put implements Sink.
func (s *LocalSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	target := filepath.Join(s.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil { //nolint:gosec // artifacts are read by other tools
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

// GCSSink uploads artifacts to a bucket under an optional prefix.
// Each object carries a sha256 metadata entry with the payload digest.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
	hasher *sha256.Hasher
}

// NewGCSSink builds a GCSSink.
func NewGCSSink(client *storage.Client, bucket, prefix string) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), hasher: sha256.New()}, nil
}

// Put implements Sink and returns a gs:// URI.
func (s *GCSSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	path := name
	if s.prefix != "" {
		path = s.prefix + "/" + name
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = jsonContentType
	writer.Metadata = map[string]string{"sha256": s.hasher.Hash(data)}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Writer encodes artifacts once and hands them to every sink in order.
// The first sink failure aborts the write.
type Writer struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewWriter builds a Writer. At least one sink is required.
func NewWriter(logger *zap.Logger, sinks ...Sink) (*Writer, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("at least one sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{sinks: sinks, logger: logger}, nil
}

// WriteLinks persists the listing stubs.
func (w *Writer) WriteLinks(ctx context.Context, stubs []publication.Stub) ([]string, error) {
	if stubs == nil {
		stubs = []publication.Stub{}
	}
	return w.write(ctx, LinksFile, stubs, len(stubs))
}

// WritePublications persists the merged records.
func (w *Writer) WritePublications(ctx context.Context, records []publication.Record) ([]string, error) {
	if records == nil {
		records = []publication.Record{}
	}
	return w.write(ctx, PublicationsFile, records, len(records))
}

func (w *Writer) write(ctx context.Context, name string, v any, n int) ([]string, error) {
	var buf bytes.Buffer
	if err := publication.Encode(&buf, v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	locations := make([]string, 0, len(w.sinks))
	for _, s := range w.sinks {
		loc, err := s.Put(ctx, name, buf.Bytes())
		if err != nil {
			return locations, fmt.Errorf("save %s: %w", name, err)
		}
		w.logger.Info("artifact saved", zap.String("artifact", name), zap.String("location", loc), zap.Int("records", n))
		locations = append(locations, loc)
	}
	metrics.ObserveRecordsWritten(name, n)
	return locations, nil
}
