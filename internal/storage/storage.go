// Package storage archives raw billing exports so analyses can be re-run
// and the concierge team can inspect the original file. Objects are keyed
// <account>/<upload>/<filename>.
package storage

import (
	"context"
	"path"
	"strings"
)

// Store persists opaque blobs by key. Implementations must be safe for
// concurrent use and return domain.ErrObjectNotFound for missing keys.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

const fallbackFilename = "usage.csv"

// ObjectKey builds the archive key for an upload. The client-supplied
// filename is reduced to its base name.
func ObjectKey(accountID, uploadID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	switch name {
	case ".", "..", "/", "":
		name = fallbackFilename
	}
	return accountID + "/" + uploadID + "/" + name
}
