package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Interaction is one recorded chat exchange.
type Interaction struct {
	ID         string    `json:"id" yaml:"id"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UserQuery  string    `json:"user_query" yaml:"user_query"`
	Response   string    `json:"response" yaml:"response"`
	Model      string    `json:"model" yaml:"model"`
	Status     string    `json:"status" yaml:"status"`
	StatusCode int       `json:"status_code" yaml:"status_code"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
}
