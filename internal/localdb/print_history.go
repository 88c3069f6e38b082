package localdb

import (
	"database/sql"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

type PrintHistoryRow struct {
	ID           int64  `json:"id"`
	JobID        string `json:"job_id"`
	RequesterID  string `json:"requester_id"`
	SourcePath   string `json:"source_path"`
	ArtifactPath string `json:"artifact_path"`
	Printer      string `json:"printer"`
	Label        string `json:"label"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// SetupPrintHistoryTable creates the print_history table.
func SetupPrintHistoryTable(db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS print_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		requester_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		artifact_path TEXT DEFAULT '',
		printer TEXT NOT NULL,
		label TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		created_at INTEGER NOT NULL
	)`

	if _, err := db.Exec(createTableSQL); err != nil {
		logger.Error("Failed to create print_history table", zap.Error(err))
		return err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_print_history_requester ON print_history(requester_id, created_at)`); err != nil {
		logger.Warn("Failed to create print_history index", zap.Error(err))
	}
	return nil
}

// AddPrintHistory records a finished job.
func AddPrintHistory(row PrintHistoryRow) error {
	db := GetDB()
	if db == nil {
		logger.Error("Database not initialized")
		return sql.ErrConnDone
	}

	if row.CreatedAt == 0 {
		row.CreatedAt = time.Now().Unix()
	}

	_, err := db.Exec(`
	INSERT INTO print_history (job_id, requester_id, source_path, artifact_path, printer, label, status, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.JobID,
		row.RequesterID,
		row.SourcePath,
		row.ArtifactPath,
		row.Printer,
		row.Label,
		row.Status,
		row.Error,
		row.CreatedAt,
	)
	if err != nil {
		logger.Error("Failed to insert print history", zap.Error(err), zap.String("job_id", row.JobID))
		return err
	}
	return nil
}

// GetPrintHistory returns the newest jobs of a requester first. An empty
// requesterID returns every requester's jobs.
func GetPrintHistory(requesterID string, limit int) ([]PrintHistoryRow, error) {
	db := GetDB()
	if db == nil {
		logger.Error("Database not initialized")
		return nil, sql.ErrConnDone
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT id, job_id, requester_id, source_path, artifact_path, printer, label, status, error, created_at
	FROM print_history
	WHERE (? = '' OR requester_id = ?)
	ORDER BY created_at DESC, id DESC
	LIMIT ?`

	rows, err := db.Query(query, requesterID, requesterID, limit)
	if err != nil {
		logger.Error("Failed to query print history", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	history := []PrintHistoryRow{}
	for rows.Next() {
		var row PrintHistoryRow
		if err := rows.Scan(&row.ID, &row.JobID, &row.RequesterID, &row.SourcePath, &row.ArtifactPath,
			&row.Printer, &row.Label, &row.Status, &row.Error, &row.CreatedAt); err != nil {
			logger.Warn("Failed to scan print history row", zap.Error(err))
			continue
		}
		history = append(history, row)
	}
	return history, rows.Err()
}

// CountPrinted returns how many jobs of the requester reached the printer.
func CountPrinted(requesterID string) (int, error) {
	db := GetDB()
	if db == nil {
		return 0, sql.ErrConnDone
	}

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM print_history WHERE requester_id = ? AND status = 'printed'`, requesterID).Scan(&count)
	return count, err
}
