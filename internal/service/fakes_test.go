package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cdr-exporter/internal/artifact"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/query"
	"github.com/webitel/cdr-exporter/internal/queue"
	"github.com/webitel/cdr-exporter/internal/store"
)

type fakeExportStore struct {
	mu      sync.Mutex
	nextID  int64
	exports map[int64]*model.Export
	finishN int
	// getErr and finishErr inject store failures before the call is applied.
	getErr    func() error
	finishErr func() error
	// afterDelete runs once the delete hook succeeded, like a commit.
	afterDelete func() error
	// afterListExpired sees the ids before they are returned.
	afterListExpired func(ids []int64)
}

func newFakeExportStore() *fakeExportStore {
	return &fakeExportStore{exports: map[int64]*model.Export{}}
}

func clone(e *model.Export) *model.Export {
	c := *e
	c.Fields = append([]string(nil), e.Fields...)
	c.Filters = make(map[string]string, len(e.Filters))
	for k, v := range e.Filters {
		c.Filters[k] = v
	}
	return &c
}

func (f *fakeExportStore) Insert(_ context.Context, in *model.NewExport) (*model.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e := &model.Export{
		ID:          f.nextID,
		Status:      model.ExportStatusPending,
		Filters:     in.Filters,
		Fields:      in.Fields,
		Kind:        in.Kind,
		ExportType:  in.ExportType,
		CallbackURL: in.CallbackURL,
		CreatedAt:   in.CreatedAt,
	}
	f.exports[e.ID] = e
	return clone(e), nil
}

func (f *fakeExportStore) Get(_ context.Context, id int64) (*model.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		if err := f.getErr(); err != nil {
			return nil, err
		}
	}
	e, ok := f.exports[id]
	if !ok {
		return nil, errors.NewDBNotFoundError("get_export", fmt.Sprintf("no export found for id=%d", id))
	}
	return clone(e), nil
}

func (f *fakeExportStore) List(_ context.Context, page, size int) (*model.ExportPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*model.Export
	for _, e := range f.exports {
		all = append(all, clone(e))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	from := (page - 1) * size
	if from > len(all) {
		from = len(all)
	}
	to := from + size
	next := to < len(all)
	if to > len(all) {
		to = len(all)
	}
	return &model.ExportPage{Page: int32(page), Next: next, Data: all[from:to]}, nil
}

func (f *fakeExportStore) Finish(_ context.Context, in *model.FinishExport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishN++
	if f.finishErr != nil {
		if err := f.finishErr(); err != nil {
			return err
		}
	}
	e, ok := f.exports[in.ID]
	if !ok || e.Status != model.ExportStatusPending {
		return errors.NewDBNotFoundError("finish_export", "no pending export")
	}
	e.Status = in.Status
	e.RowsCount = in.RowsCount
	at := in.CompletedAt
	e.CompletedAt = &at
	return nil
}

func (f *fakeExportStore) Delete(ctx context.Context, id int64, hook store.DeleteHook) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exports[id]
	if !ok {
		return errors.NewDBNotFoundError("delete_export", "no export")
	}
	if hook != nil {
		if err := hook(ctx, clone(e)); err != nil {
			return err
		}
	}
	if f.afterDelete != nil {
		if err := f.afterDelete(); err != nil {
			return err
		}
	}
	delete(f.exports, id)
	return nil
}

func (f *fakeExportStore) LastCompletedFields(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *model.Export
	for _, e := range f.exports {
		if e.Status == model.ExportStatusCompleted && (last == nil || e.ID > last.ID) {
			last = e
		}
	}
	if last == nil {
		return nil, nil
	}
	return append([]string(nil), last.Fields...), nil
}

func (f *fakeExportStore) ListExpired(_ context.Context, before time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	var ids []int64
	for id, e := range f.exports {
		if e.CreatedAt.Before(before) && e.Status != model.ExportStatusPending {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	hook := f.afterListExpired
	f.mu.Unlock()
	if hook != nil {
		hook(ids)
	}
	return ids, nil
}

// remove drops a record without any hook, like a concurrent admin delete.
func (f *fakeExportStore) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.exports, id)
}

type fakeCdrStore struct {
	mu    sync.Mutex
	calls int
	specs []*query.Spec
	copy  func(ctx context.Context, w io.Writer, spec *query.Spec) (int64, error)
}

func (f *fakeCdrStore) CopyTo(ctx context.Context, w io.Writer, spec *query.Spec) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.specs = append(f.specs, spec)
	fn := f.copy
	f.mu.Unlock()
	if fn == nil {
		_, err := io.WriteString(w, "\"id\",\"success\"\n\"1\",\"t\"\n\"2\",\"f\"\n")
		return 2, err
	}
	return fn(ctx, w, spec)
}

type fakeQueue struct {
	mu      sync.Mutex
	tasks   []model.Task
	pushErr error
}

func (q *fakeQueue) Push(_ context.Context, task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) Pop(context.Context, time.Duration) (*queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, queue.ErrEmpty
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &queue.Delivery{Task: t}, nil
}

func (q *fakeQueue) Ack(context.Context, *queue.Delivery) error { return nil }
func (q *fakeQueue) Recover(context.Context) (int, error)       { return 0, nil }
func (q *fakeQueue) Len(context.Context) (int64, error)         { return int64(len(q.tasks)), nil }
func (q *fakeQueue) Close() error                               { return nil }

func (q *fakeQueue) byType(typ model.TaskType) []model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.Task
	for _, t := range q.tasks {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

type fixture struct {
	exports   *fakeExportStore
	cdrs      *fakeCdrStore
	queue     *fakeQueue
	fs        afero.Fs
	artifacts *artifact.Store
	service   *ExportServiceImpl
	executor  *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	afs := afero.NewMemMapFs()
	a, err := artifact.NewStore(afs, "/exports")
	require.NoError(t, err)

	f := &fixture{
		exports:   newFakeExportStore(),
		cdrs:      &fakeCdrStore{},
		queue:     &fakeQueue{},
		fs:        afs,
		artifacts: a,
	}
	f.service, err = NewExportService(f.exports, f.queue, a, log)
	require.NoError(t, err)
	f.executor, err = NewExecutor(f.exports, f.cdrs, a, f.queue, log)
	require.NoError(t, err)
	f.executor.retry.Min = time.Millisecond
	f.executor.retry.Max = 5 * time.Millisecond
	return f
}

func validFilters() map[string]any {
	return map[string]any{
		"time_start_gteq":    "2018-01-01",
		"time_start_lteq":    "2018-01-02",
		"customer_acc_id_eq": 25,
	}
}

// failTimes returns an injector that fails the first n calls with err.
func failTimes(n int, err error) func() error {
	return func() error {
		if n <= 0 {
			return nil
		}
		n--
		return err
	}
}
