// Package storage mirrors a finished run's output tree to a blob store.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Mirror uploads every regular file below root to store under
// prefix/runID/<relative path>. Hidden files, including in-progress
// downloads, are skipped. Per-file failures are logged and counted; the
// returned error reports only a walk failure or cancellation.
func Mirror(
	ctx context.Context,
	store crawler.BlobStore,
	root, prefix, runID string,
	logger *zap.Logger,
) (map[string]string, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	uris := make(map[string]string)
	failed := 0
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		key := ObjectKey(prefix, runID, rel)
		uri, err := putFile(ctx, store, p, key)
		if err != nil {
			failed++
			logger.Warn("mirror upload failed", zap.String("path", p), zap.String("key", key), zap.Error(err))
			return nil
		}
		uris[filepath.ToSlash(rel)] = uri
		return nil
	})
	if walkErr != nil {
		return uris, failed, fmt.Errorf("mirror %s: %w", root, walkErr)
	}
	return uris, failed, nil
}

// ObjectKey joins the mirror prefix, run ID and a relative file path.
func ObjectKey(prefix, runID, rel string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, runID, filepath.ToSlash(rel))
	return path.Join(parts...)
}

func putFile(ctx context.Context, store crawler.BlobStore, p, key string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	uri, err := store.PutObject(ctx, key, ContentType(p), f)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}
