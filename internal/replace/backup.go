package replace

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backup is a verbatim pre-edit copy of a file, the sole rollback source of
// truth. One backup per file per transaction.
type Backup struct {
	FilePath   string    `json:"file_path"`
	BackupPath string    `json:"backup_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// BackupManager stores pre-edit file copies outside the working tree,
// grouped per transaction, with age-based retention.
type BackupManager struct {
	dir string
	log *zap.Logger
}

// NewBackupManager creates a manager rooted at dir (created on demand).
func NewBackupManager(dir string, log *zap.Logger) *BackupManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &BackupManager{dir: dir, log: log}
}

// Create copies the file's current content into the transaction's backup
// directory and verifies the copy byte-for-byte before returning. Any
// failure here is fatal for the unit of work: the caller must not edit a
// file without a verified backup.
func (m *BackupManager) Create(txID, filePath string) (Backup, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return Backup{}, fmt.Errorf("reading %s for backup: %w", filePath, err)
	}

	txDir := filepath.Join(m.dir, txID)
	if err := os.MkdirAll(txDir, 0o755); err != nil {
		return Backup{}, fmt.Errorf("creating backup dir: %w", err)
	}

	backupPath := filepath.Join(txDir, encodePath(filePath)+".bak")
	if err := os.WriteFile(backupPath, content, 0o644); err != nil {
		return Backup{}, fmt.Errorf("writing backup for %s: %w", filePath, err)
	}

	// Verify: a backup we cannot trust is worse than no backup.
	written, err := os.ReadFile(backupPath)
	if err != nil {
		return Backup{}, fmt.Errorf("verifying backup for %s: %w", filePath, err)
	}
	if !bytes.Equal(content, written) {
		return Backup{}, fmt.Errorf("backup verification failed for %s: content mismatch", filePath)
	}

	m.log.Debug("backup created",
		zap.String("file", filePath), zap.String("backup", backupPath))
	return Backup{FilePath: filePath, BackupPath: backupPath, CreatedAt: time.Now()}, nil
}

// Restore writes the backup content back to the original path.
func (m *BackupManager) Restore(b Backup) error {
	content, err := os.ReadFile(b.BackupPath)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", b.BackupPath, err)
	}
	if err := os.WriteFile(b.FilePath, content, 0o644); err != nil {
		return fmt.Errorf("restoring %s: %w", b.FilePath, err)
	}
	m.log.Info("file restored from backup", zap.String("file", b.FilePath))
	return nil
}

// Prune removes transaction backup directories older than maxAge and
// returns how many were removed.
func (m *BackupManager) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing backup dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				m.log.Warn("pruning backup failed", zap.String("dir", path), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		m.log.Info("pruned old backups", zap.Int("removed", removed))
	}
	return removed, nil
}

// encodePath flattens a file path into a single backup filename. Hex keeps
// it reversible and collision-free across path separators.
func encodePath(path string) string {
	clean := filepath.ToSlash(path)
	if len(clean) <= 80 {
		return strings.NewReplacer("/", "__", ":", "", "\\", "__").Replace(clean)
	}
	return hex.EncodeToString([]byte(clean))
}
