package cache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/localdb"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

// ErrEmptyImage is returned when an upload carries no bytes.
var ErrEmptyImage = errors.New("empty image")

// CacheEntry represents a cached source image
type CacheEntry struct {
	ID             int64     `json:"id"`
	ContentHash    string    `json:"content_hash"`
	OriginalName   string    `json:"original_name"`
	FilePath       string    `json:"file_path"`
	FileSize       int64     `json:"file_size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalFiles     int       `json:"total_files"`
	TotalSizeMB    float64   `json:"total_size_mb"`
	OldestFileDate time.Time `json:"oldest_file_date"`
}

var extByContentType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// ContentHash returns the hex sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store writes an uploaded image into dir under its content hash. The second
// return value reports whether the same bytes were already cached.
func Store(dir string, r io.Reader, originalName string) (*CacheEntry, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, false, ErrEmptyImage
	}

	hash := ContentHash(data)
	if entry, err := GetCacheEntry(hash); err != nil {
		return nil, false, err
	} else if entry != nil {
		if _, statErr := os.Stat(entry.FilePath); statErr == nil {
			logger.Debug("Cache hit", zap.String("content_hash", hash), zap.String("path", entry.FilePath))
			return entry, true, nil
		}
	}

	path := filepath.Join(dir, hash+extensionFor(originalName, data))
	hit := false
	if _, err := os.Stat(path); err == nil {
		// 前回起動時のファイルが残っている
		hit = true
	} else if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, false, fmt.Errorf("failed to write cache file %s: %w", path, err)
	}

	if err := AddCacheEntry(hash, originalName, path, int64(len(data))); err != nil {
		return nil, false, err
	}
	entry, err := GetCacheEntry(hash)
	if err != nil {
		return nil, false, err
	}
	return entry, hit, nil
}

func extensionFor(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		return ext
	}
	if ext, ok := extByContentType[http.DetectContentType(data)]; ok {
		return ext
	}
	return ".img"
}

// AddCacheEntry adds a new cache entry to the database
func AddCacheEntry(contentHash, originalName, filePath string, fileSize int64) error {
	db := localdb.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Check if entry already exists
	var existingID int64
	err := db.QueryRow("SELECT id FROM cache_entries WHERE content_hash = ?", contentHash).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing entry: %w", err)
	}

	if err == nil {
		// Update existing entry
		_, err = db.Exec("UPDATE cache_entries SET last_accessed_at = CURRENT_TIMESTAMP, file_path = ?, file_size = ? WHERE id = ?", filePath, fileSize, existingID)
		if err != nil {
			return fmt.Errorf("failed to update cache entry: %w", err)
		}
		logger.Debug("Updated cache entry", zap.String("content_hash", contentHash))
		return nil
	}

	_, err = db.Exec(`INSERT INTO cache_entries (content_hash, original_name, file_path, file_size, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		contentHash, originalName, filePath, fileSize)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	logger.Debug("Added cache entry", zap.String("content_hash", contentHash), zap.String("original_name", originalName))
	return nil
}

// GetCacheEntry gets a cache entry by content hash. It returns nil without
// error when the hash is unknown.
func GetCacheEntry(contentHash string) (*CacheEntry, error) {
	db := localdb.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	entry := &CacheEntry{}
	err := db.QueryRow(`SELECT id, content_hash, original_name, file_path, file_size, created_at, last_accessed_at
		FROM cache_entries WHERE content_hash = ?`, contentHash).Scan(
		&entry.ID, &entry.ContentHash, &entry.OriginalName, &entry.FilePath,
		&entry.FileSize, &entry.CreatedAt, &entry.LastAccessedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	_, err = db.Exec("UPDATE cache_entries SET last_accessed_at = CURRENT_TIMESTAMP WHERE id = ?", entry.ID)
	if err != nil {
		logger.Warn("Failed to update last accessed time", zap.Error(err))
	}

	return entry, nil
}

// GetCacheStats calculates cache statistics
func GetCacheStats() (*CacheStats, error) {
	db := localdb.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stats := &CacheStats{}
	var totalBytes int64
	err := db.QueryRow("SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM cache_entries").Scan(&stats.TotalFiles, &totalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache stats: %w", err)
	}
	stats.TotalSizeMB = float64(totalBytes) / (1024 * 1024)

	if stats.TotalFiles > 0 {
		err = db.QueryRow("SELECT created_at FROM cache_entries ORDER BY created_at ASC LIMIT 1").Scan(&stats.OldestFileDate)
		if err != nil {
			logger.Warn("Failed to get oldest file date", zap.Error(err))
		}
	}

	return stats, nil
}

// ClearAllCache removes all cached files (and their formatted siblings) and
// database entries
func ClearAllCache() error {
	db := localdb.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	rows, err := db.Query("SELECT file_path FROM cache_entries")
	if err != nil {
		return fmt.Errorf("failed to query cache entries: %w", err)
	}

	var filesToDelete []string
	for rows.Next() {
		var filePath string
		if err := rows.Scan(&filePath); err != nil {
			logger.Warn("Failed to scan file path", zap.Error(err))
			continue
		}
		filesToDelete = append(filesToDelete, filePath)
	}
	rows.Close()

	deletedCount := 0
	for _, filePath := range filesToDelete {
		if removeWithArtifacts(filePath) {
			deletedCount++
		}
	}

	result, err := db.Exec("DELETE FROM cache_entries")
	if err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	logger.Info("Cleared all cache",
		zap.Int("files_deleted", deletedCount),
		zap.Int64("db_entries_deleted", rowsAffected))

	return nil
}

// CleanupOversizeCache removes least recently used files when the cache
// exceeds maxSizeMB.
func CleanupOversizeCache(maxSizeMB int) error {
	db := localdb.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	if maxSizeMB <= 0 {
		return nil
	}

	stats, err := GetCacheStats()
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	maxSizeBytes := int64(maxSizeMB) * 1024 * 1024
	currentSizeBytes := int64(stats.TotalSizeMB * 1024 * 1024)
	if currentSizeBytes <= maxSizeBytes {
		return nil
	}

	logger.Info("Cache size exceeds limit, cleaning up oldest files",
		zap.Float64("current_size_mb", stats.TotalSizeMB),
		zap.Int("max_size_mb", maxSizeMB))

	// Clean to 80% of limit
	targetSizeBytes := maxSizeBytes * 80 / 100
	bytesToDelete := currentSizeBytes - targetSizeBytes

	rows, err := db.Query(`SELECT id, file_path, file_size FROM cache_entries
		ORDER BY last_accessed_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("failed to query cache entries for cleanup: %w", err)
	}

	type victim struct {
		id   int64
		path string
		size int64
	}
	var filesToDelete []victim
	var deletedBytes int64
	for deletedBytes < bytesToDelete && rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path, &v.size); err != nil {
			logger.Warn("Failed to scan cache entry for cleanup", zap.Error(err))
			continue
		}
		filesToDelete = append(filesToDelete, v)
		deletedBytes += v.size
	}
	rows.Close()

	deletedCount := 0
	for _, file := range filesToDelete {
		if removeWithArtifacts(file.path) {
			deletedCount++
		}
		if _, err := db.Exec("DELETE FROM cache_entries WHERE id = ?", file.id); err != nil {
			logger.Warn("Failed to delete cache entry from database", zap.Int64("id", file.id), zap.Error(err))
		}
	}

	logger.Info("Cleaned up oversized cache",
		zap.Int("files_deleted", deletedCount),
		zap.Int64("bytes_freed", deletedBytes))

	return nil
}

// removeWithArtifacts deletes a cached source and the formatted files written
// beside it.
func removeWithArtifacts(path string) bool {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if matches, err := filepath.Glob(stem + "_*.png"); err == nil {
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("Failed to delete cache file", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// GetCacheDir returns the cache directory, creating it when needed. An empty
// dir selects ~/.stimky-sticker/cache.
func GetCacheDir(dir string) (string, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("Failed to get user home directory", zap.Error(err))
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".stimky-sticker", "cache")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("Failed to create cache directory", zap.String("cache_dir", dir), zap.Error(err))
		return "", fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	// 書き込み権限の確認
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		logger.Error("Cache directory is not writable", zap.String("cache_dir", dir), zap.Error(err))
		return "", fmt.Errorf("cache directory %s is not writable: %w", dir, err)
	}
	if err := os.Remove(testFile); err != nil {
		logger.Warn("Failed to remove test file", zap.String("test_file", testFile), zap.Error(err))
	}

	return dir, nil
}

// InitializeCache verifies the directory and database and trims the cache
// to maxSizeMB. It returns the resolved cache directory.
func InitializeCache(dir string, maxSizeMB int) (string, error) {
	logger.Info("Initializing cache system")

	cacheDir, err := GetCacheDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}

	db := localdb.GetDB()
	if db == nil {
		logger.Error("Database not initialized - cache system will be disabled")
		return "", fmt.Errorf("database not initialized")
	}
	if err := db.Ping(); err != nil {
		logger.Error("Database ping failed", zap.Error(err))
		return "", fmt.Errorf("database connection failed: %w", err)
	}

	if err := CleanupOversizeCache(maxSizeMB); err != nil {
		logger.Warn("Failed to cleanup oversized cache on startup", zap.Error(err))
	}

	logger.Info("Cache system initialized",
		zap.String("cache_dir", cacheDir),
		zap.Int("max_size_mb", maxSizeMB))
	return cacheDir, nil
}

// StoreBytes is Store for data already in memory.
func StoreBytes(dir string, data []byte, originalName string) (*CacheEntry, bool, error) {
	return Store(dir, bytes.NewReader(data), originalName)
}
