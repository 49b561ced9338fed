package meta

import (
	"errors"
	"time"

	"assetvault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrInvariant is returned by the save hook when a row would carry both or
// neither of location and inline content.
var ErrInvariant = errors.New("item must carry exactly one of location or content")

// Item is the metadata record for one stored asset.
// For file/object kinds Location references the physical content; for the
// db kind the payload itself lives in Content.
type Item struct {
	ID       types.ItemID      `gorm:"primaryKey;autoIncrement"`
	Name     string            `gorm:"index;type:varchar(255);not null"`
	Filename string            `gorm:"type:varchar(255);not null"`
	Backend  types.BackendKind `gorm:"index;type:varchar(16);not null"`

	// Location is an absolute path (file) or object key (object).
	Location *string `gorm:"type:varchar(1024);index"`
	// Content holds the payload for the db kind. Never selected unless asked for.
	Content []byte

	Size     int64
	Checksum string `gorm:"type:char(64)"` // sha256 hex of the payload

	// Attributes carries descriptive data such as the detected content type.
	Attributes datatypes.JSON

	CreatedAt time.Time
}

// TableName pins the table name.
func (Item) TableName() string {
	return "items"
}

// LocationString returns the location or "" for inline items.
func (i *Item) LocationString() string {
	if i.Location == nil {
		return ""
	}
	return *i.Location
}

// BeforeSave enforces the location-xor-content invariant for every write.
func (i *Item) BeforeSave(tx *gorm.DB) error {
	if !i.Backend.IsValid() {
		return errors.New("item has no valid backend kind")
	}
	if i.Backend.ExternalContent() {
		if i.Location == nil || *i.Location == "" || i.Content != nil {
			return ErrInvariant
		}
		return nil
	}
	if i.Location != nil || i.Content == nil {
		return ErrInvariant
	}
	return nil
}

// metadataColumns is every column except the inline payload.
var metadataColumns = []string{
	"id", "name", "filename", "backend", "location", "size", "checksum", "attributes", "created_at",
}
