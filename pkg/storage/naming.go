package storage

import (
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxNameLen = 255

// ValidateName rejects names that are empty or could steer a derived path
// or key outside its root. Names are never rewritten: a caller gets back
// exactly the name it passed in, or InvalidInput.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return InvalidInput("name must not be empty")
	}
	if len(name) > maxNameLen {
		return InvalidInput("name longer than %d bytes", maxNameLen)
	}
	if name == "." || name == ".." {
		return InvalidInput("name %q is not a file name", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return InvalidInput("name %q contains a path separator", name)
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return InvalidInput("name %q contains control characters", name)
		}
	}
	return nil
}

// NewObjectKey derives a fresh location key for name. The random token keeps
// equal names from colliding; its first two characters shard the keyspace.
// Example: "duck.glb" -> "3f/3f2a...-duck.glb"
func NewObjectKey(name string) string {
	token := uuid.NewString()
	return path.Join(token[:2], token+"-"+name)
}
