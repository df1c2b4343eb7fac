package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"examscore/ml"
)

var database *sql.DB

var ErrNotInitialized = errors.New("database not initialized")

// InitDB initializes the SQLite database
func InitDB(path string) error {
	if database != nil {
		database.Close()
		database = nil
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        model_name VARCHAR(50) NOT NULL,
        model_type VARCHAR(50) NOT NULL,
        r2 REAL,
        mae REAL,
        rmse REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        inputs TEXT NOT NULL,
        score REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}
	database = conn
	return nil
}

// Close closes the database opened by InitDB
func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

type TrainingLog struct {
	RunID     string    `json:"run_id"`
	ModelName string    `json:"model_name"`
	ModelType string    `json:"model_type"`
	R2        float64   `json:"r2"`
	MAE       float64   `json:"mae"`
	RMSE      float64   `json:"rmse"`
	TrainRows int       `json:"train_rows"`
	TestRows  int       `json:"test_rows"`
	TrainedAt time.Time `json:"trained_at"`
}

func SaveTrainingLog(entry TrainingLog) error {
	if database == nil {
		return ErrNotInitialized
	}
	if entry.RunID == "" {
		return errors.New("run id required")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	_, err := database.Exec(`
        INSERT INTO training_log (
            run_id, model_name, model_type, r2, mae, rmse, train_rows, test_rows, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		entry.RunID,
		entry.ModelName,
		entry.ModelType,
		entry.R2,
		entry.MAE,
		entry.RMSE,
		entry.TrainRows,
		entry.TestRows,
		entry.TrainedAt.UTC(),
	)
	return err
}

// LoadTrainingLog returns the newest entries first. limit <= 0 returns all.
func LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := database.Query(`
        SELECT run_id, model_name, model_type, r2, mae, rmse, train_rows, test_rows, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.RunID, &log.ModelName, &log.ModelType, &log.R2, &log.MAE, &log.RMSE,
			&log.TrainRows, &log.TestRows, &log.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// SavePredictions records each scored input. Values are stored in their raw
// text form so the table stays readable without the schema.
func SavePredictions(requestID string, inputs []ml.Record, scores []float64) error {
	if database == nil {
		return ErrNotInitialized
	}
	if len(inputs) != len(scores) {
		return errors.New("inputs/scores length mismatch")
	}
	if len(inputs) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
        INSERT INTO predictions (request_id, inputs, score, created_at)
        VALUES (?, ?, ?, ?)
    `)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, rec := range inputs {
		raw := make(map[string]string, len(rec))
		for k, v := range rec {
			raw[k] = v.String()
		}
		payload, err := json.Marshal(raw)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(requestID, string(payload), scores[i], now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CountPredictions returns the number of stored predictions.
func CountPredictions() (int, error) {
	if database == nil {
		return 0, ErrNotInitialized
	}
	var n int
	err := database.QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}

// Recorder exposes the package database through the HTTP layer's interface.
type Recorder struct{}

func (Recorder) SavePredictions(requestID string, inputs []ml.Record, scores []float64) error {
	return SavePredictions(requestID, inputs, scores)
}

func (Recorder) LoadTrainingLog(limit int) ([]TrainingLog, error) {
	return LoadTrainingLog(limit)
}
