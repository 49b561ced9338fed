// Package server exposes items over HTTP and process health over gRPC.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/metrics"
	"assetvault/pkg/service"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const (
	defaultMaxUpload = 512 << 20
	multipartMemory  = 32 << 20
)

// Options configures the HTTP handler.
type Options struct {
	// MaxUploadBytes caps request bodies of uploads.
	MaxUploadBytes int64
	// Ready backs /healthz; nil means always ready.
	Ready ReadyFunc
}

// ItemHandler serves the item API.
type ItemHandler struct {
	items *service.ItemService
	opts  Options
	log   *slog.Logger
}

// NewHandler returns the complete HTTP handler: item API, /healthz and /metrics.
func NewHandler(items *service.ItemService, opts Options, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	h := &ItemHandler{items: items, opts: opts, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(recoverer(log))
	r.Use(instrument)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Mount("/items", h.Routes())
	return r
}

// Routes returns the routes for items.
func (h *ItemHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateItem)
	r.Get("/", h.ListItems)
	r.Get("/{id}", h.GetItem)
	r.Get("/{id}/model", h.DownloadModel)
	r.Put("/{id}", h.ReplaceItem)
	r.Delete("/{id}", h.DeleteItem)

	return r
}

// ItemResponse is the JSON view of an item.
type ItemResponse struct {
	ID          types.ItemID      `json:"id"`
	Name        string            `json:"name"`
	Filename    string            `json:"filename"`
	Backend     types.BackendKind `json:"backend"`
	Size        int64             `json:"size"`
	Checksum    string            `json:"checksum"`
	ContentType string            `json:"content_type,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ListResponse is one page of items.
type ListResponse struct {
	Items  []ItemResponse `json:"items"`
	Total  int64          `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func toResponse(item *meta.Item) ItemResponse {
	return ItemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Filename:    item.Filename,
		Backend:     item.Backend,
		Size:        item.Size,
		Checksum:    item.Checksum,
		ContentType: contentType(item),
		CreatedAt:   item.CreatedAt,
	}
}

func contentType(item *meta.Item) string {
	var attrs struct {
		ContentType string `json:"content_type"`
	}
	if len(item.Attributes) == 0 || json.Unmarshal(item.Attributes, &attrs) != nil {
		return ""
	}
	return attrs.ContentType
}

// writeError answers with the status for err's kind. Causes of server-side
// failures are logged, never sent.
func (h *ItemHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := storage.HTTPStatus(err)
	msg := err.Error()
	if status >= 500 {
		h.log.Error("request failed", slog.String("path", r.URL.Path), slog.String("err", err.Error()))
		msg = http.StatusText(status)
		if kind := storage.KindOf(err); kind != nil {
			msg = kind.Error()
		}
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg, Kind: storage.KindName(err)})
}

func (h *ItemHandler) itemID(r *http.Request) (types.ItemID, error) {
	id, err := types.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		return 0, storage.InvalidInput("invalid item id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

// readUpload extracts the "file" part and the optional "name" field.
func (h *ItemHandler) readUpload(w http.ResponseWriter, r *http.Request) (name, filename string, data []byte, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", "", nil, storage.InvalidInput("upload larger than %d bytes", tooLarge.Limit)
		}
		return "", "", nil, storage.InvalidInput("expected a multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", nil, storage.InvalidInput("missing file part")
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return "", "", nil, storage.InvalidInput("failed to read upload: %v", err)
	}
	return r.FormValue("name"), header.Filename, data, nil
}

// CreateItem stores an uploaded model.
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	name, filename, data, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if name == "" {
		name = filename
	}

	item, err := h.items.Create(r.Context(), name, filename, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResponse(item))
}

// ListItems pages through items with ?offset= and ?limit=.
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.items.List(r.Context(), offset, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := ListResponse{Items: make([]ItemResponse, 0, len(page.Items)), Total: page.Total, Offset: page.Offset, Limit: page.Limit}
	for i := range page.Items {
		resp.Items = append(resp.Items, toResponse(&page.Items[i]))
	}
	render.JSON(w, r, resp)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, storage.InvalidInput("invalid %s %q", key, raw)
	}
	return v, nil
}

// GetItem returns an item's metadata.
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := h.itemID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, toResponse(item))
}

// DownloadModel streams the stored payload as an attachment.
func (h *ItemHandler) DownloadModel(w http.ResponseWriter, r *http.Request) {
	id, err := h.itemID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, data, err := h.items.Download(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ct := contentType(item)
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": filepath.Base(item.Filename),
	}))
	w.Header().Set("ETag", fmt.Sprintf("%q", item.Checksum))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Debug("client went away during download", slog.String("item", id.String()), slog.String("err", err.Error()))
	}
}

// ReplaceItem uploads new content for an item. The response carries the
// new id; the old id stops resolving.
func (h *ItemHandler) ReplaceItem(w http.ResponseWriter, r *http.Request) {
	id, err := h.itemID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name, _, data, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.items.Replace(r.Context(), id, name, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, toResponse(item))
}

// DeleteItem removes content and metadata.
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := h.itemID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.items.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports readiness of the metadata store.
func (h *ItemHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			h.log.Warn("health check failed", slog.String("err", err.Error()))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable"})
			return
		}
	}
	render.JSON(w, r, map[string]string{
		"status":  "ok",
		"backend": h.items.Backend().Kind().String(),
	})
}
