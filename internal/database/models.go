package database

import (
	"time"

	"github.com/itai-hania/HFI/internal/media"
)

// Translation statuses shared by threads and posts.
const (
	StatusPending    = "pending"
	StatusTranslated = "translated"
	StatusFailed     = "failed"
)

// Thread is one acquired reply thread.
type Thread struct {
	ID               int64
	SourceURL        string
	AuthorHandle     string
	PostCount        int
	Mode             *string
	TranslationDraft *string
	Status           string
	ErrorMessage     *string
	StopReason       *string
	CollectedAt      *string
	UpdatedAt        *string
}

// Post is a stored post of a thread. Media holds the download state of every
// media item discovered for it.
type Post struct {
	ID               int64
	ThreadID         int64
	StatusID         string
	AuthorHandle     string
	Text             string
	Position         int
	Permalink        string
	PostedAt         *string
	Media            []media.Download
	TranslationDraft *string
	Status           string
	ErrorMessage     *string
	CreatedAt        *string
	UpdatedAt        *string
}

// StyleExample is a Hebrew text used as a few-shot style reference.
type StyleExample struct {
	ID             int64
	Content        string
	SourceType     string
	SourceURL      *string
	TopicTags      []string
	WordCount      int
	IsActive       bool
	ApprovalCount  int
	RejectionCount int
	CreatedAt      *string
}

// Created returns the creation time, or the zero time when unknown.
func (e StyleExample) Created() time.Time {
	if e.CreatedAt == nil {
		return time.Time{}
	}
	return ParseTimestamp(*e.CreatedAt)
}

// Stats contains aggregate database statistics.
type Stats struct {
	Threads           int
	TranslatedThreads int
	FailedThreads     int
	Posts             int
	PendingPosts      int
	TranslatedPosts   int
	FailedPosts       int
	StyleExamples     int
}

const timestampLayout = "2006-01-02 15:04:05"

// ParseTimestamp reads a SQLite datetime('now') value or an RFC 3339 string.
func ParseTimestamp(s string) time.Time {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// FormatTimestamp renders t the way the schema stores timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
