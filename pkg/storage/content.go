package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"assetvault/pkg/meta"

	"gorm.io/datatypes"
)

// maxPrealloc caps how much ReadAll trusts a size hint.
const maxPrealloc = 64 << 20

// Checksum returns the sha256 hex digest stored on every row.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks loaded content against the size and checksum on its row.
// A mismatch means a truncated or foreign object: never hand it out.
func Verify(item *meta.Item, data []byte) error {
	if int64(len(data)) != item.Size {
		return Unavailable("verify content", fmt.Errorf("item %s: size %d, expected %d", item.ID, len(data), item.Size))
	}
	if item.Checksum != "" && Checksum(data) != item.Checksum {
		return Unavailable("verify content", fmt.Errorf("item %s: checksum mismatch", item.ID))
	}
	return nil
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// NewContextReader wraps r so that reads fail promptly after cancellation.
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return contextReader{ctx: ctx, r: r}
}

// ReadAll drains r, honouring ctx between reads. sizeHint may be zero.
func ReadAll(ctx context.Context, r io.Reader, sizeHint int64) ([]byte, error) {
	var buf bytes.Buffer
	if sizeHint > 0 && sizeHint <= maxPrealloc {
		buf.Grow(int(sizeHint))
	}
	if _, err := buf.ReadFrom(NewContextReader(ctx, r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType guesses a MIME type, preferring the glTF extensions.
func ContentType(name string, data []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".gltf":
		return "model/gltf+json"
	case ".glb":
		return "model/gltf-binary"
	case ".obj":
		return "model/obj"
	case ".stl":
		return "model/stl"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}

func attributesFor(name string, data []byte) datatypes.JSON {
	raw, err := json.Marshal(map[string]string{
		"content_type": ContentType(name, data),
		"extension":    strings.ToLower(path.Ext(name)),
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
