package localdb

import (
	"database/sql"
	"fmt"

	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// MemoryDSN keeps the database for the lifetime of the process only.
const MemoryDSN = ":memory:"

var DBClient *sql.DB

func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}
	if dbPath == "" {
		dbPath = MemoryDSN
	}

	dsn := dbPath
	if dbPath != MemoryDSN {
		// WALモードとBusy Timeoutを設定（Race Condition対策）
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	// :memory: は接続ごとに別DBになるので接続を使い回す
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := SetupPrintHistoryTable(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// cache_entriesテーブルを追加（キャッシュファイル管理）
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_hash TEXT UNIQUE NOT NULL,
		original_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_accessed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create cache_entries table", zap.Error(err))
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache_entries table: %w", err)
	}

	DBClient = db
	logger.Debug("Local database ready", zap.String("path", dbPath))
	return db, nil
}

// GetDB は現在のデータベース接続を返します
func GetDB() *sql.DB {
	return DBClient
}

// CloseDB closes the current connection and forgets it.
func CloseDB() error {
	if DBClient == nil {
		return nil
	}
	err := DBClient.Close()
	DBClient = nil
	return err
}
