package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"documind/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured relational database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				source_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				file_hash TEXT NOT NULL,
				filename TEXT NOT NULL,
				file_type TEXT NOT NULL,
				structured_data TEXT NOT NULL,
				clean_content TEXT NOT NULL,
				fast_tracked INTEGER NOT NULL DEFAULT 0,
				structuring_degraded INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (session_id, source_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(file_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id)`,
			`CREATE TABLE IF NOT EXISTS hash_index (
				file_hash TEXT PRIMARY KEY,
				source_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				filename TEXT NOT NULL,
				file_type TEXT NOT NULL,
				structured_data TEXT NOT NULL,
				clean_content TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				source_id VARCHAR(191) NOT NULL,
				session_id VARCHAR(191) NOT NULL,
				file_hash VARCHAR(64) NOT NULL,
				filename VARCHAR(255) NOT NULL,
				file_type VARCHAR(32) NOT NULL,
				structured_data MEDIUMTEXT NOT NULL,
				clean_content MEDIUMTEXT NOT NULL,
				fast_tracked TINYINT(1) NOT NULL DEFAULT 0,
				structuring_degraded TINYINT(1) NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (session_id, source_id),
				INDEX idx_documents_hash (file_hash),
				INDEX idx_documents_session (session_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS hash_index (
				file_hash VARCHAR(64) NOT NULL PRIMARY KEY,
				source_id VARCHAR(191) NOT NULL,
				session_id VARCHAR(191) NOT NULL,
				filename VARCHAR(255) NOT NULL,
				file_type VARCHAR(32) NOT NULL,
				structured_data MEDIUMTEXT NOT NULL,
				clean_content MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				session_id VARCHAR(191) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_chat_messages_session (session_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
