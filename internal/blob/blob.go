// Package blob reads attachment bytes from the configured object store.
package blob

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned when the referenced object does not exist.
var ErrNotFound = errors.New("blob not found")

// Fetcher loads the full contents of one stored object.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Filename returns the last path element of ref, ignoring any query string.
// It falls back to "unknown.pdf" when ref has no usable name.
func Filename(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	name := path.Base(strings.TrimRight(ref, "/"))
	if name == "" || name == "." || name == "/" {
		return "unknown.pdf"
	}
	return name
}
