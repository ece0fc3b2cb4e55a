package storedb

import (
	"fmt"

	"gorm.io/gorm"
)

// createEntryFullTextIndex creates the entry_full_text FTS5 virtual table.
// GORM has no virtual-table DSL, so this migration and the index helpers
// below use raw SQL.
func createEntryFullTextIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entry_full_text USING fts5(
			scope,
			key,
			author_id,
			text,
			tokenize = 'porter unicode61'
		)
	`).Error
}

// IndexEntryText upserts the full-text row for one entry slot. Called
// within the same transaction as the entry write so the index stays in
// lockstep with entry.text (invariant 5 of the data model).
func IndexEntryText(tx *gorm.DB, scope, key, authorID, text string) error {
	if err := DeindexEntry(tx, scope, key, authorID); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return tx.Exec(
		`INSERT INTO entry_full_text (scope, key, author_id, text) VALUES (?, ?, ?, ?)`,
		scope, key, authorID, text,
	).Error
}

// DeindexEntry removes any full-text row for one entry slot.
func DeindexEntry(tx *gorm.DB, scope, key, authorID string) error {
	return tx.Exec(
		`DELETE FROM entry_full_text WHERE scope = ? AND key = ? AND author_id = ?`,
		scope, key, authorID,
	).Error
}

// FullTextMatch is one (scope, key) hit from a full-text query, ranked by
// SQLite FTS5's bm25() score (lower is a better match).
type FullTextMatch struct {
	Scope string
	Key   string
	Rank  float64
}

// SearchFullText runs an FTS5 MATCH query and returns distinct (scope, key)
// hits ordered by relevance.
func SearchFullText(db *gorm.DB, query string) ([]FullTextMatch, error) {
	rows, err := db.Raw(`
		SELECT scope, key, bm25(entry_full_text) AS rank
		FROM entry_full_text
		WHERE entry_full_text MATCH ?
		ORDER BY rank ASC
	`, query).Rows()
	if err != nil {
		return nil, fmt.Errorf("storedb: full text query failed: %w", err)
	}
	defer rows.Close()

	// Rows arrive best-ranked first, so the first row seen for a (scope, key)
	// carries its best score; later rows for the same slot are skipped.
	var matches []FullTextMatch
	seen := make(map[[2]string]struct{})
	for rows.Next() {
		var match FullTextMatch
		if err := rows.Scan(&match.Scope, &match.Key, &match.Rank); err != nil {
			return nil, fmt.Errorf("storedb: scanning full text row: %w", err)
		}
		slot := [2]string{match.Scope, match.Key}
		if _, ok := seen[slot]; ok {
			continue
		}
		seen[slot] = struct{}{}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}
