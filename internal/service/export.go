package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/webitel/cdr-exporter/internal/artifact"
	"github.com/webitel/cdr-exporter/internal/domain/cdr"
	"github.com/webitel/cdr-exporter/internal/domain/filter"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/queue"
	"github.com/webitel/cdr-exporter/internal/store"
)

const expiredBatchSize = 100

type ExportService interface {
	Create(ctx context.Context, req *CreateExportRequest) (*model.Export, error)
	Get(ctx context.Context, id int64) (*model.Export, error)
	List(ctx context.Context, page, size int) (*model.ExportPage, error)
	Delete(ctx context.Context, id int64) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

type CreateExportRequest struct {
	Filters     map[string]any
	Fields      []string
	CallbackURL string
	ExportType  string
	Kind        string
}

type ExportServiceImpl struct {
	store     store.ExportStore
	queue     queue.Queue
	artifacts *artifact.Store
	log       *slog.Logger
	now       func() time.Time
}

func NewExportService(s store.ExportStore, q queue.Queue, a *artifact.Store, log *slog.Logger) (*ExportServiceImpl, error) {
	if s == nil || q == nil || a == nil {
		return nil, errors.Internal("store, queue or artifact store is nil in ExportService")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExportServiceImpl{store: s, queue: q, artifacts: a, log: log, now: time.Now}, nil
}

func (s *ExportServiceImpl) Create(ctx context.Context, req *CreateExportRequest) (*model.Export, error) {
	kind, err := model.ParseExportKind(req.Kind)
	if err != nil {
		return nil, errors.NewValidationError("export-kind", errors.ReasonInvalidValue, err.Error())
	}

	spec, err := filter.Parse(req.Filters)
	if err != nil {
		return nil, err
	}

	fields := compactFields(req.Fields)
	if len(fields) == 0 {
		inherited, err := s.store.LastCompletedFields(ctx)
		if err != nil {
			return nil, errors.Internal("could not look up inherited fields", errors.WithCause(err), errors.WithID("service.export.create"))
		}
		fields = inherited
	}
	fields, err = cdr.Normalize(fields, kind)
	if err != nil {
		return nil, err
	}

	callbackURL, err := normalizeCallbackURL(req.CallbackURL)
	if err != nil {
		return nil, err
	}

	exportType := strings.TrimSpace(req.ExportType)
	if exportType == "" {
		exportType = model.DefaultExportType
	}

	export, err := s.store.Insert(ctx, &model.NewExport{
		Filters:     spec.Serialize(),
		Fields:      fields,
		Kind:        kind,
		ExportType:  exportType,
		CallbackURL: callbackURL,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, errors.Internal("could not create export", errors.WithCause(err), errors.WithID("service.export.create"))
	}

	if err := s.queue.Push(ctx, model.NewExportTask(export.ID)); err != nil {
		// A record without a task would stay Pending forever.
		if delErr := s.store.Delete(ctx, export.ID, nil); delErr != nil {
			s.log.ErrorContext(ctx, "cdr_exporter.service.export.rollback_failed",
				slog.Int64("export_id", export.ID), slog.String("error", delErr.Error()))
		}
		return nil, errors.Internal("could not enqueue export", errors.WithCause(err), errors.WithID("service.export.enqueue"))
	}

	s.log.InfoContext(ctx, "cdr_exporter.service.export.created",
		slog.Int64("export_id", export.ID),
		slog.String("kind", string(export.Kind)),
		slog.Int("fields", len(export.Fields)),
		slog.Bool("callback", export.CallbackURL != nil),
	)
	return export, nil
}

func (s *ExportServiceImpl) Get(ctx context.Context, id int64) (*model.Export, error) {
	if id <= 0 {
		return nil, errors.NewValidationError("id", errors.ReasonInvalidValue, "id must be positive")
	}
	return s.store.Get(ctx, id)
}

func (s *ExportServiceImpl) List(ctx context.Context, page, size int) (*model.ExportPage, error) {
	return s.store.List(ctx, page, size)
}

// Delete removes the record and its artifact. The artifact is moved aside
// inside the row's transaction and put back if the delete does not commit,
// so the row and its file are kept or dropped together.
func (s *ExportServiceImpl) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.NewValidationError("id", errors.ReasonInvalidValue, "id must be positive")
	}
	var stash *artifact.Stash
	err := s.store.Delete(ctx, id, func(ctx context.Context, export *model.Export) error {
		var err error
		stash, err = s.artifacts.Stash(export.ID)
		return err
	})
	if err != nil {
		if rErr := stash.Restore(); rErr != nil {
			s.log.ErrorContext(ctx, "cdr_exporter.service.export.artifact_restore_failed",
				slog.Int64("export_id", id), slog.String("error", errors.Details(rErr)))
		}
		return err
	}
	if err := stash.Discard(); err != nil {
		s.log.WarnContext(ctx, "cdr_exporter.service.export.artifact_discard_failed",
			slog.Int64("export_id", id), slog.String("error", errors.Details(err)))
	}
	s.log.InfoContext(ctx, "cdr_exporter.service.export.deleted", slog.Int64("export_id", id))
	return nil
}

// DeleteExpired deletes finished exports created before the given time and
// returns how many were removed.
func (s *ExportServiceImpl) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	var deleted int
	for {
		ids, err := s.store.ListExpired(ctx, before, expiredBatchSize)
		if err != nil {
			return deleted, err
		}
		for _, id := range ids {
			err := s.Delete(ctx, id)
			switch {
			case err == nil:
				deleted++
			case errors.IsNotFound(err):
				// Deleted concurrently.
			default:
				return deleted, err
			}
		}
		if len(ids) < expiredBatchSize {
			return deleted, nil
		}
	}
}

func compactFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// normalizeCallbackURL returns nil for a blank URL. A URL without a scheme is
// taken as http.
func normalizeCallbackURL(raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.NewValidationError("callback-url", errors.ReasonInvalidValue,
			fmt.Sprintf("invalid callback url %q", raw))
	}
	s := u.String()
	return &s, nil
}
