package model

import (
	"fmt"
	"strings"
	"time"
)

type ExportStatus string

const (
	ExportStatusPending   ExportStatus = "Pending"
	ExportStatusCompleted ExportStatus = "Completed"
	ExportStatusFailed    ExportStatus = "Failed"
)

// Terminal reports whether no further transition is allowed.
func (s ExportStatus) Terminal() bool {
	return s == ExportStatusCompleted || s == ExportStatusFailed
}

// ExportKind selects the column template and the leg predicate of an export.
type ExportKind string

const (
	ExportKindAll      ExportKind = "all"
	ExportKindCustomer ExportKind = "customer"
	ExportKindVendor   ExportKind = "vendor"
)

const DefaultExportType = "Base"

func ParseExportKind(s string) (ExportKind, error) {
	switch k := ExportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return ExportKindAll, nil
	case ExportKindAll, ExportKindCustomer, ExportKindVendor:
		return k, nil
	default:
		return "", fmt.Errorf("unknown export kind %q", s)
	}
}

// Export is one export job. Filters holds the canonical serialized filter set.
type Export struct {
	ID          int64             `db:"id" json:"id"`
	Status      ExportStatus      `db:"status" json:"status"`
	Filters     map[string]string `db:"filters" json:"filters"`
	Fields      []string          `db:"fields" json:"fields"`
	Kind        ExportKind        `db:"export_kind" json:"export_kind"`
	ExportType  string            `db:"export_type" json:"export_type"`
	CallbackURL *string           `db:"callback_url" json:"callback_url,omitempty"`
	RowsCount   *int64            `db:"rows_count" json:"rows_count,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	CompletedAt *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
}

type NewExport struct {
	Filters     map[string]string `db:"filters"`
	Fields      []string          `db:"fields"`
	Kind        ExportKind        `db:"export_kind"`
	ExportType  string            `db:"export_type"`
	CallbackURL *string           `db:"callback_url"`
	CreatedAt   time.Time         `db:"created_at"`
}

// FinishExport is the single Pending -> terminal transition.
type FinishExport struct {
	ID          int64        `db:"id"`
	Status      ExportStatus `db:"status"`
	RowsCount   *int64       `db:"rows_count"`
	CompletedAt time.Time    `db:"completed_at"`
}

type ExportPage struct {
	Page int32     `json:"page"`
	Next bool      `json:"next"`
	Data []*Export `json:"data"`
}
