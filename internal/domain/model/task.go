package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeExport   TaskType = "export"
	TaskTypeCallback TaskType = "callback"
)

// Task is the job persisted in Redis. It must be JSON-serializable.
type Task struct {
	TaskID   string   `json:"task_id"`
	Type     TaskType `json:"type"`
	ExportID int64    `json:"export_id"`
	// Callback tasks only.
	CallbackURL string       `json:"callback_url,omitempty"`
	Status      ExportStatus `json:"status,omitempty"`
	EnqueuedAt  int64        `json:"enqueued_at"`
	// Attempt counts redeliveries after transient failures.
	Attempt int `json:"attempt,omitempty"`
}

func NewExportTask(exportID int64) Task {
	return Task{
		TaskID:     uuid.NewString(),
		Type:       TaskTypeExport,
		ExportID:   exportID,
		EnqueuedAt: time.Now().UnixMilli(),
	}
}

func NewCallbackTask(exportID int64, url string, status ExportStatus) Task {
	return Task{
		TaskID:      uuid.NewString(),
		Type:        TaskTypeCallback,
		ExportID:    exportID,
		CallbackURL: url,
		Status:      status,
		EnqueuedAt:  time.Now().UnixMilli(),
	}
}
