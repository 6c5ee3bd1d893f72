package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itai-hania/HFI/internal/media"
	"github.com/itai-hania/HFI/internal/thread"
)

const threadColumns = `id, source_url, author_handle, post_count, mode, translation_draft,
	status, error_message, stop_reason, collected_at, updated_at`

const postColumns = `id, thread_id, status_id, author_handle, text, position, permalink,
	posted_at, media, translation_draft, status, error_message, created_at, updated_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// SaveThread stores a traversal result. The thread and its posts are reset to
// pending; media state and drafts of posts seen before are kept. When the
// traversal reached the end of the thread, posts it no longer returned are
// removed. A partial traversal keeps every stored post.
func (db *DB) SaveThread(res thread.Result) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var threadID int64
	err = tx.QueryRow(
		`INSERT INTO threads (source_url, author_handle, post_count, stop_reason, collected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			author_handle = excluded.author_handle,
			post_count = excluded.post_count,
			stop_reason = excluded.stop_reason,
			collected_at = excluded.collected_at,
			status = 'pending',
			error_message = NULL,
			updated_at = datetime('now')
		RETURNING id`,
		res.RootURL, res.AuthorHandle, len(res.Posts), string(res.StopReason), FormatTimestamp(res.CollectedAt),
	).Scan(&threadID)
	if err != nil {
		return 0, fmt.Errorf("saving thread: %w", err)
	}

	permalinks := make([]any, 0, len(res.Posts)+1)
	permalinks = append(permalinks, threadID)
	for _, p := range res.Posts {
		mediaJSON, err := encodeMedia(media.Pending(p.Media))
		if err != nil {
			return 0, err
		}
		var postedAt *string
		if !p.Timestamp.IsZero() {
			s := FormatTimestamp(p.Timestamp)
			postedAt = &s
		}
		_, err = tx.Exec(
			`INSERT INTO posts (thread_id, status_id, author_handle, text, position, permalink, posted_at, media)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(permalink) DO UPDATE SET
				thread_id = excluded.thread_id,
				author_handle = excluded.author_handle,
				text = excluded.text,
				position = excluded.position,
				posted_at = excluded.posted_at,
				status = 'pending',
				error_message = NULL,
				updated_at = datetime('now')`,
			threadID, p.ID, p.AuthorHandle, p.Text, p.Position, p.Permalink, postedAt, mediaJSON,
		)
		if err != nil {
			return 0, fmt.Errorf("saving post %s: %w", p.Permalink, err)
		}
		permalinks = append(permalinks, p.Permalink)
	}

	if complete(res.StopReason) {
		stale := "DELETE FROM posts WHERE thread_id = ?"
		if len(permalinks) > 1 {
			stale += " AND permalink NOT IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(permalinks)-1), ", ") + ")"
		}
		if _, err := tx.Exec(stale, permalinks...); err != nil {
			return 0, fmt.Errorf("removing stale posts: %w", err)
		}
	}
	_, err = tx.Exec(
		"UPDATE threads SET post_count = (SELECT COUNT(*) FROM posts WHERE thread_id = ?) WHERE id = ?",
		threadID, threadID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return threadID, nil
}

// complete reports whether a traversal stopped at the natural end of the thread.
func complete(reason thread.StopReason) bool {
	return reason == thread.StopEndOfThread || reason == thread.StopAuthorChanged
}

// GetThread returns a thread by ID, or nil if it does not exist.
func (db *DB) GetThread(threadID int64) (*Thread, error) {
	row := db.conn.QueryRow("SELECT "+threadColumns+" FROM threads WHERE id = ?", threadID)
	return getThread(row)
}

// GetThreadByURL returns the thread acquired from sourceURL, or nil.
func (db *DB) GetThreadByURL(sourceURL string) (*Thread, error) {
	row := db.conn.QueryRow("SELECT "+threadColumns+" FROM threads WHERE source_url = ?", sourceURL)
	return getThread(row)
}

// ListThreads returns the most recently updated threads first.
func (db *DB) ListThreads(limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		"SELECT "+threadColumns+" FROM threads ORDER BY updated_at DESC, id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// GetPosts returns the posts of a thread in traversal order.
func (db *DB) GetPosts(threadID int64) ([]Post, error) {
	rows, err := db.conn.Query(
		"SELECT "+postColumns+" FROM posts WHERE thread_id = ? ORDER BY position", threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// UpdatePostMedia replaces the media state of a post. Nothing else is written.
func (db *DB) UpdatePostMedia(postID int64, items []media.Download) error {
	data, err := encodeMedia(items)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"UPDATE posts SET media = ?, updated_at = datetime('now') WHERE id = ?", data, postID,
	)
	return err
}

// SetPostTranslation records the translation outcome of one post.
func (db *DB) SetPostTranslation(postID int64, draft *string, status string, errMsg *string) error {
	_, err := db.conn.Exec(
		`UPDATE posts SET translation_draft = ?, status = ?, error_message = ?, updated_at = datetime('now')
		WHERE id = ?`,
		draft, status, errMsg, postID,
	)
	return err
}

// SetThreadTranslation records the translation outcome of a thread.
func (db *DB) SetThreadTranslation(threadID int64, mode string, draft *string, status string, errMsg *string) error {
	_, err := db.conn.Exec(
		`UPDATE threads SET mode = ?, translation_draft = ?, status = ?, error_message = ?, updated_at = datetime('now')
		WHERE id = ?`,
		mode, draft, status, errMsg, threadID,
	)
	return err
}

// DeleteThread removes a thread. Its posts go with it through the foreign key
// cascade.
func (db *DB) DeleteThread(threadID int64) error {
	result, err := db.conn.Exec("DELETE FROM threads WHERE id = ?", threadID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("thread %d not found", threadID)
	}
	return nil
}

func getThread(row *sql.Row) (*Thread, error) {
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanThread(s scanner) (*Thread, error) {
	var t Thread
	if err := s.Scan(&t.ID, &t.SourceURL, &t.AuthorHandle, &t.PostCount, &t.Mode, &t.TranslationDraft,
		&t.Status, &t.ErrorMessage, &t.StopReason, &t.CollectedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanPost(s scanner) (*Post, error) {
	var p Post
	var mediaJSON string
	if err := s.Scan(&p.ID, &p.ThreadID, &p.StatusID, &p.AuthorHandle, &p.Text, &p.Position, &p.Permalink,
		&p.PostedAt, &mediaJSON, &p.TranslationDraft, &p.Status, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mediaJSON), &p.Media); err != nil {
		return nil, fmt.Errorf("decoding media of post %d: %w", p.ID, err)
	}
	return &p, nil
}

func encodeMedia(items []media.Download) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding media: %w", err)
	}
	return string(data), nil
}
