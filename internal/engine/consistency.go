package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvsync/kvsync/internal/storedb"
	"gorm.io/gorm"
)

// errAuthorTableInconsistency is the engine-local sentinel for a failed
// post-condition check; kvstore.ErrAuthorTableInconsistency wraps it for
// callers outside this package.
var errAuthorTableInconsistency = errors.New("author usn is behind one of its own entries")

// CheckConsistency verifies that for every author, the largest usn among
// that author's entry rows is at most the author's own recorded usn
// (V_author.Dominates(V_entries)). It
// runs against the write handle so it observes the latest committed state.
func (e *Engine) CheckConsistency(ctx context.Context) (bool, error) {
	return checkConsistency(e.write.WithContext(ctx))
}

func checkConsistency(db *gorm.DB) (bool, error) {
	type maxUSNRow struct {
		AuthorID string
		MaxUSN   int64
	}
	var rows []maxUSNRow
	if err := db.Model(&storedb.Entry{}).
		Select("author_id, MAX(usn) AS max_usn").
		Group("author_id").
		Scan(&rows).Error; err != nil {
		return false, fmt.Errorf("engine: scanning entry usns: %w", err)
	}

	for _, row := range rows {
		var author storedb.Author
		err := db.Where("id = ?", row.AuthorID).Take(&author).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("engine: loading author %s: %w", row.AuthorID, err)
		}
		if author.USN < row.MaxUSN {
			return false, nil
		}
	}
	return true, nil
}
