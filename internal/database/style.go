package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const styleColumns = `id, content, source_type, source_url, topic_tags, word_count,
	is_active, approval_count, rejection_count, created_at`

// InsertStyleExample stores a new active style example.
func (db *DB) InsertStyleExample(content, sourceType string, sourceURL *string, tags []string, wordCount int) (int64, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, err
	}
	result, err := db.conn.Exec(
		`INSERT INTO style_examples (content, source_type, source_url, topic_tags, word_count)
		VALUES (?, ?, ?, ?, ?)`,
		content, sourceType, sourceURL, string(tagsJSON), wordCount,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ActiveStyleExamples returns active examples, newest first.
func (db *DB) ActiveStyleExamples() ([]StyleExample, error) {
	rows, err := db.conn.Query(
		"SELECT " + styleColumns + " FROM style_examples WHERE is_active = 1 ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var examples []StyleExample
	for rows.Next() {
		e, err := scanStyleExample(rows)
		if err != nil {
			return nil, err
		}
		examples = append(examples, *e)
	}
	return examples, rows.Err()
}

// GetStyleExample returns one example by ID, or nil.
func (db *DB) GetStyleExample(id int64) (*StyleExample, error) {
	row := db.conn.QueryRow("SELECT "+styleColumns+" FROM style_examples WHERE id = ?", id)
	e, err := scanStyleExample(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// HasStyleSource reports whether an active example was imported from sourceURL.
func (db *DB) HasStyleSource(sourceURL string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM style_examples WHERE source_url = ? AND is_active = 1", sourceURL,
	).Scan(&count)
	return count > 0, err
}

// DeactivateStyleExample soft-deletes an example.
func (db *DB) DeactivateStyleExample(id int64) error {
	return db.execOne("UPDATE style_examples SET is_active = 0 WHERE id = ?", id)
}

// UpdateStyleTags replaces the topic tags of an example.
func (db *DB) UpdateStyleTags(id int64, tags []string) error {
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return db.execOne("UPDATE style_examples SET topic_tags = ? WHERE id = ?", string(data), id)
}

// RecordStyleFeedback counts one approval or rejection of a translation
// produced with this example.
func (db *DB) RecordStyleFeedback(id int64, approved bool) error {
	column := "rejection_count"
	if approved {
		column = "approval_count"
	}
	return db.execOne(fmt.Sprintf("UPDATE style_examples SET %s = %s + 1 WHERE id = ?", column, column), id)
}

func (db *DB) execOne(query string, args ...any) error {
	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("style example not found")
	}
	return nil
}

func scanStyleExample(s scanner) (*StyleExample, error) {
	var e StyleExample
	var tagsJSON *string
	var active int
	if err := s.Scan(&e.ID, &e.Content, &e.SourceType, &e.SourceURL, &tagsJSON, &e.WordCount,
		&active, &e.ApprovalCount, &e.RejectionCount, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.IsActive = active != 0
	if tagsJSON != nil {
		if err := json.Unmarshal([]byte(*tagsJSON), &e.TopicTags); err != nil {
			e.TopicTags = nil
		}
	}
	return &e, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM threads", &s.Threads},
		{"SELECT COUNT(*) FROM threads WHERE status = 'translated'", &s.TranslatedThreads},
		{"SELECT COUNT(*) FROM threads WHERE status = 'failed'", &s.FailedThreads},
		{"SELECT COUNT(*) FROM posts", &s.Posts},
		{"SELECT COUNT(*) FROM posts WHERE status = 'pending'", &s.PendingPosts},
		{"SELECT COUNT(*) FROM posts WHERE status = 'translated'", &s.TranslatedPosts},
		{"SELECT COUNT(*) FROM posts WHERE status = 'failed'", &s.FailedPosts},
		{"SELECT COUNT(*) FROM style_examples WHERE is_active = 1", &s.StyleExamples},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
