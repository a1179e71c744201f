package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandwichfarm/strand/internal/storage"
)

const backupPrefix = "strand-cache-"

// BackupManager copies the event cache to and from backup files
type BackupManager struct {
	storage *storage.Storage
	logger  *Logger
}

// NewBackupManager creates a new backup manager
func NewBackupManager(st *storage.Storage, logger *Logger) *BackupManager {
	return &BackupManager{
		storage: st,
		logger:  logger.WithComponent("backup"),
	}
}

// BackupPath names a timestamped backup file inside dir
func BackupPath(dir string, now time.Time) string {
	return filepath.Join(dir, backupPrefix+now.Format("20060102-150405")+".db")
}

// Backup writes a snapshot of the open cache to destPath. When destPath is
// an existing directory a timestamped file is created inside it. The path
// written is returned.
func (b *BackupManager) Backup(ctx context.Context, destPath string) (string, error) {
	start := time.Now()

	if info, err := os.Stat(destPath); err == nil && info.IsDir() {
		destPath = BackupPath(destPath, start)
	}
	if _, err := os.Stat(destPath); err == nil {
		return "", fmt.Errorf("backup destination already exists: %s", destPath)
	}

	b.logger.Info("starting cache backup", "destination", destPath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		b.logger.LogBackupOperation("create directory", destPath, 0, err)
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	if err := b.storage.Snapshot(ctx, destPath); err != nil {
		b.logger.LogBackupOperation("backup", destPath, 0, err)
		return "", err
	}

	var size int64
	if info, err := os.Stat(destPath); err == nil {
		size = info.Size()
	}

	b.logger.LogBackupOperation("backup", destPath, size, nil)
	b.logger.Debug("cache backup completed",
		"destination", destPath,
		"duration_ms", time.Since(start).Milliseconds())

	return destPath, nil
}

// Restore copies a backup over the cache file at destPath. The cache must
// not be open while restoring.
func (b *BackupManager) Restore(ctx context.Context, backupPath, destPath string) error {
	start := time.Now()

	b.logger.Info("starting cache restore",
		"backup", backupPath,
		"destination", destPath)

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	size, err := copyFile(backupPath, destPath)
	if err != nil {
		b.logger.LogBackupOperation("restore", destPath, size, err)
		return fmt.Errorf("failed to restore cache: %w", err)
	}

	// stale journals from the replaced database must not be replayed
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(destPath + suffix)
	}

	b.logger.LogBackupOperation("restore", destPath, size, nil)
	b.logger.Debug("cache restore completed",
		"backup", backupPath,
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

// copyFile copies src to dst through a temporary file
func copyFile(src, dst string) (int64, error) {
	sourceFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	tmp := dst + ".tmp"
	destFile, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}

	size, err := io.Copy(destFile, sourceFile)
	if err == nil {
		err = destFile.Sync()
	}
	if cerr := destFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return size, fmt.Errorf("failed to copy file: %w", err)
	}

	return size, os.Rename(tmp, dst)
}

// CleanOldBackups removes backups in backupDir older than maxAge and returns
// how many were deleted
func CleanOldBackups(backupDir string, maxAge time.Duration, logger *Logger) (int, error) {
	logger.Debug("cleaning old backups", "directory", backupDir, "max_age", maxAge)

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var deleted int

	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info", "file", entry.Name(), "error", err)
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to delete old backup", "file", path, "error", err)
			} else {
				logger.Info("deleted old backup", "file", path, "age", time.Since(info.ModTime()))
				deleted++
			}
		}
	}

	return deleted, nil
}

func isBackupFile(name string) bool {
	return filepath.Ext(name) == ".db" && strings.HasPrefix(name, backupPrefix)
}
