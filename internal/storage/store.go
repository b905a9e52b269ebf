// Package storage provides durable homes for session backup bundles. The
// session manager is agnostic to the backing store and its authentication;
// it only uploads immutable bundle files and asks for the most recent one.
package storage

import "context"

// RemoteStore persists opaque versioned backup bundles keyed by session.
type RemoteStore interface {
	// Upload stores the bundle at localBundlePath under sessionKey and
	// returns a store-specific id for the stored version.
	Upload(ctx context.Context, localBundlePath, sessionKey string, metadata map[string]string) (string, error)

	// DownloadLatest writes the most recent bundle for sessionKey to
	// localPath. Returns false with a nil error when no backup exists.
	DownloadLatest(ctx context.Context, sessionKey, localPath string) (bool, error)
}
