package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/webitel/cdr-exporter/internal/artifact"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/service"
)

const (
	ContentType  = "application/vnd.api+json"
	ResourceType = "cdr-exports"
	BasePath     = "/api/rest/admin/cdr/cdr-exports"

	defaultPageSize = 20
	maxPageSize     = 1000
	maxBodySize     = 1 << 20
)

// ArtifactSource opens committed export files for download.
type ArtifactSource interface {
	Open(exportID int64) (afero.File, error)
}

type ExportHandler struct {
	service        service.ExportService
	artifacts      ArtifactSource
	downloadPrefix string
}

// NewExportHandler builds the cdr-exports handler. With a non-empty
// downloadPrefix downloads are delegated to the fronting proxy through
// X-Accel-Redirect.
func NewExportHandler(svc service.ExportService, artifacts ArtifactSource, downloadPrefix string) (*ExportHandler, error) {
	if svc == nil || artifacts == nil {
		return nil, errors.Internal("ExportService or artifact source is nil")
	}
	return &ExportHandler{service: svc, artifacts: artifacts, downloadPrefix: downloadPrefix}, nil
}

func (h *ExportHandler) Routes(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Delete("/", h.delete)
			r.Get("/download", h.download)
		})
	})
}

type createAttributes struct {
	Fields      []string       `json:"fields"`
	Filters     map[string]any `json:"filters"`
	CallbackURL string         `json:"callback-url"`
	ExportType  string         `json:"export-type"`
	ExportKind  string         `json:"export-kind"`
}

type createDocument struct {
	Data struct {
		Type       string           `json:"type"`
		Attributes createAttributes `json:"attributes"`
	} `json:"data"`
}

type exportAttributes struct {
	Status      model.ExportStatus `json:"status"`
	Fields      []string           `json:"fields"`
	Filters     map[string]string  `json:"filters"`
	CallbackURL *string            `json:"callback-url"`
	ExportType  string             `json:"export-type"`
	ExportKind  model.ExportKind   `json:"export-kind"`
	RowsCount   *int64             `json:"rows-count"`
	CreatedAt   time.Time          `json:"created-at"`
	CompletedAt *time.Time         `json:"completed-at"`
}

type exportResource struct {
	Type       string           `json:"type"`
	ID         string           `json:"id"`
	Attributes exportAttributes `json:"attributes"`
}

type pageMeta struct {
	Page int32 `json:"page"`
	Next bool  `json:"next"`
}

type resourceDocument struct {
	Data *exportResource `json:"data"`
}

type collectionDocument struct {
	Data []*exportResource `json:"data"`
	Meta pageMeta          `json:"meta"`
}

func toResource(e *model.Export) *exportResource {
	return &exportResource{
		Type: ResourceType,
		ID:   strconv.FormatInt(e.ID, 10),
		Attributes: exportAttributes{
			Status:      e.Status,
			Fields:      e.Fields,
			Filters:     e.Filters,
			CallbackURL: e.CallbackURL,
			ExportType:  e.ExportType,
			ExportKind:  e.Kind,
			RowsCount:   e.RowsCount,
			CreatedAt:   e.CreatedAt,
			CompletedAt: e.CompletedAt,
		},
	}
}

func (h *ExportHandler) create(w http.ResponseWriter, r *http.Request) {
	var doc createDocument
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&doc); err != nil {
		vErr := errors.NewValidationError("data", errors.ReasonInvalidValue, "malformed request body")
		vErr.Cause = err
		writeError(w, r, vErr)
		return
	}
	if doc.Data.Type != "" && doc.Data.Type != ResourceType {
		writeError(w, r, errors.NewValidationError("type", errors.ReasonInvalidValue, fmt.Sprintf("expected resource type %q", ResourceType)))
		return
	}

	attrs := doc.Data.Attributes
	export, err := h.service.Create(r.Context(), &service.CreateExportRequest{
		Filters:     attrs.Filters,
		Fields:      attrs.Fields,
		CallbackURL: attrs.CallbackURL,
		ExportType:  attrs.ExportType,
		Kind:        attrs.ExportKind,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", path.Join(BasePath, strconv.FormatInt(export.ID, 10)))
	writeDocument(w, http.StatusCreated, &resourceDocument{Data: toResource(export)})
}

func (h *ExportHandler) list(w http.ResponseWriter, r *http.Request) {
	number, err := pageParam(r, "page[number]", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := pageParam(r, "page[size]", defaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	page, err := h.service.List(r.Context(), number, size)
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc := &collectionDocument{
		Data: make([]*exportResource, 0, len(page.Data)),
		Meta: pageMeta{Page: page.Page, Next: page.Next},
	}
	for _, e := range page.Data {
		doc.Data = append(doc.Data, toResource(e))
	}
	writeDocument(w, http.StatusOK, doc)
}

func (h *ExportHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := exportID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	export, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, &resourceDocument{Data: toResource(export)})
}

func (h *ExportHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := exportID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExportHandler) download(w http.ResponseWriter, r *http.Request) {
	id, err := exportID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	export, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if export.Status != model.ExportStatusCompleted {
		writeError(w, r, errors.NotFound(fmt.Sprintf("export %d has no file (status %s)", id, export.Status), errors.WithID("rest.export.download")))
		return
	}

	name := artifact.Name(id)
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if h.downloadPrefix != "" {
		w.Header().Set("X-Accel-Redirect", path.Join("/", h.downloadPrefix, name))
		w.WriteHeader(http.StatusOK)
		return
	}

	file, err := h.artifacts.Open(id)
	if err != nil {
		w.Header().Del("Content-Disposition")
		writeError(w, r, err)
		return
	}
	defer file.Close()

	var modTime time.Time
	if export.CompletedAt != nil {
		modTime = *export.CompletedAt
	}
	http.ServeContent(w, r, name, modTime, file)
}

func exportID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NotFound(fmt.Sprintf("export %q not found", raw), errors.WithID("rest.export.id"))
	}
	return id, nil
}

func pageParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := cast.ToIntE(raw)
	if err != nil || v < 1 {
		return 0, errors.NewValidationError(key, errors.ReasonInvalidValue, key+" must be a positive integer")
	}
	return v, nil
}

func writeDocument(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}
