// Package pathutil implements the pure path and name functions shared by
// every tree implementation: normalization, temp-name recognition, remote
// URL encoding, and the parent/leaf split. Like the teacher's other leaf
// utility packages (internal/bytesize, pkg/mfsymlink), it exposes
// package-level functions rather than a receiver type.
package pathutil

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/rqmirror/rqmirror/internal/rqerrors"
)

// defaultTempPatterns is the built-in temp-name set layered under any
// configured patterns (spec.md §3, §4.1).
var defaultTempPatterns = []string{
	".*",
	"~*",
	"*.tmp",
	"~$*",
	".DS_Store",
	"Thumbs.db",
}

// Normalize NFC-normalizes p and rejects ".." segment escapes. It does not
// reject segments beginning with "." — those are local-only paths, see
// IsForbidden.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", rqerrors.New(rqerrors.ErrInvalidPath, p, "empty path")
	}

	// path.Clean silently drops ".." at the root, so escapes are detected on
	// the raw segments before cleaning.
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", rqerrors.New(rqerrors.ErrInvalidPath, p, "path escapes root")
			}
		default:
			depth++
		}
	}

	clean := path.Clean("/" + p)
	normalized := norm.NFC.String(clean)

	return normalized, nil
}

// IsForbidden reports whether any segment of p begins with ".". The RQ Tree
// never queues such paths for remote sync, and the sync processor fails any
// that reach the queue (spec.md §4.1, §4.5 step 2).
func IsForbidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "" {
			return true
		}
	}
	return false
}

// IsTemp reports whether p's leaf name matches a temp-file pattern: the
// built-in default set plus any caller-supplied patterns.
func IsTemp(p string, patterns []string) bool {
	leaf := Leaf(p)

	for _, pat := range defaultTempPatterns {
		if ok, _ := path.Match(pat, leaf); ok {
			return true
		}
	}
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, leaf); ok {
			return true
		}
	}
	return false
}

// RemoteEncode percent-encodes each segment of p, preserving "/".
func RemoteEncode(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// Parent returns the directory portion of p.
func Parent(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}

// Leaf returns the final segment of p.
func Leaf(p string) string {
	return path.Base(p)
}

// CreateMarkerName returns the work-tree creation marker path for p.
func CreateMarkerName(p string) string {
	return p + ".rqcf"
}
