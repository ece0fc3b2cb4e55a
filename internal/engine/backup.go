package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gorm.io/gorm"
)

// Backup writes a consistent, byte-for-byte copy of the store to destPath.
// It checkpoints the write-ahead log into the main database file first so
// the copy needs only that one file, then copies through a temporary file
// in the destination directory and renames it into place, so a reader
// never observes a partially-written destination.
func (e *Engine) Backup(ctx context.Context, destPath string) error {
	if err := e.write.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return fmt.Errorf("engine: checkpointing before backup: %w", err)
	}

	sourcePath, err := databaseFilePath(e.write)
	if err != nil {
		return err
	}

	if err := copyFileAtomically(sourcePath, destPath); err != nil {
		return fmt.Errorf("engine: backing up database: %w", err)
	}
	return nil
}

func databaseFilePath(db *gorm.DB) (string, error) {
	type pragmaRow struct {
		Seq  int
		Name string
		File string
	}
	var rows []pragmaRow
	if err := db.Raw("PRAGMA database_list").Scan(&rows).Error; err != nil {
		return "", fmt.Errorf("engine: listing database files: %w", err)
	}
	for _, row := range rows {
		if row.Name == "main" {
			return row.File, nil
		}
	}
	return "", fmt.Errorf("engine: main database file not found")
}

func copyFileAtomically(sourcePath, destPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer source.Close()

	destDir := filepath.Dir(destPath)
	tempFile, err := os.CreateTemp(destDir, ".kvsync-backup-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	if _, err := io.Copy(tempFile, source); err != nil {
		tempFile.Close()
		return fmt.Errorf("copying: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
