// Package relay copies finished local backup artifacts to an object store.
package relay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// DefaultTimeout bounds one artifact's upload when none is configured.
const DefaultTimeout = 5 * time.Minute

// Uploader puts a single local file at key in its bucket.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, key string) error
	// URL renders key as a user-facing locator, e.g. s3://bucket/key.
	URL(key string) string
}

// Relay maps artifacts onto remote keys of the form
// <prefix>/<run_id>/<category>/<relative path> and uploads them.
type Relay struct {
	Uploader Uploader
	Prefix   string
	Timeout  time.Duration
	Logger   *zap.Logger
}

func New(up Uploader, prefix string, timeout time.Duration, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{Uploader: up, Prefix: prefix, Timeout: timeout, Logger: logger}
}

// Key joins the remote key for one file of an artifact. rel uses the local
// path separator and is converted to forward slashes.
func Key(prefix string, run domain.RunID, category, rel string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, string(run), domain.CategoryPath(category))
	if rel != "" {
		parts = append(parts, filepath.ToSlash(rel))
	}
	return path.Join(parts...)
}

// Upload sends the artifact at local (a file or a directory, walked
// recursively) and returns the remote location of its category root.
// Every failure is a RelayFault.
func (r *Relay) Upload(ctx context.Context, run domain.RunID, category, local string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	root := Key(r.Prefix, run, category, "")
	info, err := os.Stat(local)
	if err != nil {
		return "", domain.NewFault(domain.RelayFault, "stat "+local, err)
	}

	var files int
	if !info.IsDir() {
		if err := r.put(ctx, local, Key(r.Prefix, run, category, filepath.Base(local))); err != nil {
			return "", err
		}
		files = 1
	} else {
		err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(local, p)
			if err != nil {
				return err
			}
			files++
			return r.put(ctx, p, Key(r.Prefix, run, category, rel))
		})
		if _, ok := domain.KindOf(err); ok {
			return "", err
		}
		if err != nil {
			return "", domain.NewFault(domain.RelayFault, "upload "+local, err)
		}
	}

	r.Logger.Info("relay_uploaded",
		zap.String("run_id", string(run)),
		zap.String("category", category),
		zap.String("remote", r.Uploader.URL(root)),
		zap.Int("files", files),
	)
	return r.Uploader.URL(root), nil
}

func (r *Relay) put(ctx context.Context, local, key string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewFault(domain.RelayFault, "upload "+key, err)
	}
	if err := r.Uploader.UploadFile(ctx, local, key); err != nil {
		return domain.NewFault(domain.RelayFault, "upload "+key, err)
	}
	return nil
}

// Options selects and configures a backend.
type Options struct {
	Provider        string // s3, gcs or none
	Bucket          string
	Region          string
	Endpoint        string
	CredentialsFile string
}

// Open builds the configured backend. Provider "none" or "" returns nil, nil:
// no relay target.
func Open(ctx context.Context, o Options) (Uploader, error) {
	switch strings.ToLower(o.Provider) {
	case "", "none":
		return nil, nil
	case "s3":
		up, err := NewS3(o.Bucket, o.Region, o.Endpoint)
		if err != nil {
			return nil, err
		}
		return up, nil
	case "gcs":
		up, err := NewGCS(ctx, o.Bucket, o.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return up, nil
	default:
		return nil, fmt.Errorf("unknown relay provider %q", o.Provider)
	}
}
