// Package remotetree defines the capability of the remote, HTTP-addressable
// content repository: everything pkg/tree.Tree requires plus a resource
// fetch that materializes a remote object into the local cache.
// pkg/tree/remotetree/httpremote and pkg/tree/remotetree/s3remote are its
// two concrete implementations, selected by Remote.Kind in configuration.
package remotetree

import (
	"context"
	"io"

	"github.com/rqmirror/rqmirror/pkg/tree"
)

// RemoteTree is the Tree capability plus fetchResource (spec.md §4.2).
type RemoteTree interface {
	tree.Tree

	// FetchResource streams the body at remotePath into the local cache's
	// backing store, creating parent directories as needed, and returns the
	// local path it was written to.
	FetchResource(ctx context.Context, remotePath string) (localPath string, err error)

	// StatRemote returns metadata for path without fetching its body. The
	// caching protocol (spec.md §4.4.1 step 4) uses LastModified to detect
	// remote divergence since the last sync.
	StatRemote(ctx context.Context, path string) (tree.FileInfo, error)

	// Upload performs a bodied write with an explicit wire verb, exposed so
	// pkg/syncproc can apply the stored-PUT/wire-POST inversion of spec.md
	// §4.5 step 3 rather than letting CreateFile/Open infer it. S3-backed
	// implementations ignore method (every write is a PutObject).
	Upload(ctx context.Context, method, path string, body io.Reader, size int64) error
}
