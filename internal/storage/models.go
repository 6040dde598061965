package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAccessDenied is returned when a record exists but belongs to a
// different user.
var ErrAccessDenied = errors.New("access denied")

// ErrAlreadyExists is returned on unique-constraint violations, e.g. a
// duplicate user email.
var ErrAlreadyExists = errors.New("already exists")

type User struct {
	ID           string
	Email        string
	PasswordHash string // opaque; hashing is the caller's concern
	CreatedAt    time.Time
}

type Thread struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
}

// ThreadSummary is the listing view of a thread: its first query as a
// de-facto title plus the turn count.
type ThreadSummary struct {
	ID         string
	OwnerID    string
	FirstQuery string
	TurnCount  int
	CreatedAt  time.Time
}

// Turn is one query/response exchange. Response is empty while the turn
// is a draft and is written exactly once when the stream finalizes.
type Turn struct {
	ID        string
	ThreadID  string
	Query     string
	Response  string
	CreatedAt time.Time
}

type Document struct {
	ID        string
	OwnerID   string
	FileName  string
	URL       string
	Status    string // "processing", "completed", "failed"
	LastError string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
