// pkg/types/common.go
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ItemID is the surrogate key the metadata store assigns to an Item.
// It is never reused once issued.
type ItemID uint64

func (id ItemID) String() string { return strconv.FormatUint(uint64(id), 10) }

// IsZero reports whether the id was never assigned.
func (id ItemID) IsZero() bool { return id == 0 }

// ParseItemID parses a decimal id as it appears in URLs and CLI arguments.
func ParseItemID(s string) (ItemID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid item id %q: must be positive", s)
	}
	return ItemID(n), nil
}

// BackendKind identifies the medium that holds an item's content.
// It is recorded on the row at creation and never changes.
type BackendKind string

const (
	KindFile   BackendKind = "file"
	KindDB     BackendKind = "db"
	KindObject BackendKind = "object"
)

func (k BackendKind) String() string { return string(k) }

func (k BackendKind) IsValid() bool {
	switch k {
	case KindFile, KindDB, KindObject:
		return true
	}
	return false
}

// ExternalContent reports whether content lives outside the metadata row.
func (k BackendKind) ExternalContent() bool { return k == KindFile || k == KindObject }

// ParseBackendKind accepts the configuration spelling of a kind.
// "minio" and "s3" are accepted as aliases of "object".
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "disk":
		return KindFile, nil
	case "db", "database":
		return KindDB, nil
	case "object", "s3", "minio":
		return KindObject, nil
	}
	return "", fmt.Errorf("unsupported storage backend: %q", s)
}
