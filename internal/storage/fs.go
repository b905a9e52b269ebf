package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FSStore keeps backup bundles on the local filesystem, one directory per
// session with timestamped version files. Used for development and tests.
type FSStore struct {
	baseDir string
}

func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir %s: %w", baseDir, err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (s *FSStore) Upload(ctx context.Context, localBundlePath, sessionKey string, metadata map[string]string) (string, error) {
	dir := filepath.Join(s.baseDir, sanitizeKey(sessionKey))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}

	version := fmt.Sprintf("%s_%s.bundle", time.Now().UTC().Format("20060102T150405.000000000"), uuid.NewString()[:8])
	dest := filepath.Join(dir, version)

	if err := copyFile(localBundlePath, dest); err != nil {
		return "", err
	}

	if len(metadata) > 0 {
		metaBytes, err := json.Marshal(metadata)
		if err == nil {
			os.WriteFile(dest+".meta.json", metaBytes, 0644)
		}
	}

	return version, nil
}

func (s *FSStore) DownloadLatest(ctx context.Context, sessionKey, localPath string) (bool, error) {
	dir := filepath.Join(s.baseDir, sanitizeKey(sessionKey))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bundle") {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return false, nil
	}

	// Timestamp prefix makes lexicographic order chronological.
	sort.Strings(versions)
	latest := versions[len(versions)-1]

	if err := copyFile(filepath.Join(dir, latest), localPath); err != nil {
		return false, err
	}
	return true, nil
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Sync()
}
