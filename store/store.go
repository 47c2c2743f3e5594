package store

import (
	"database/sql"
	"fmt"
	"strings"

	"missiond/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	driver string
}

func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg.SQLite.Path)
	case "postgres":
		return openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := &DB{DB: sqlDB, driver: "sqlite"}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func openPostgres(cfg *config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db := &DB{DB: sqlDB, driver: "postgres"}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return db, nil
}

func (db *DB) Driver() string { return db.driver }

// Q rewrites ? placeholders and datetime literals for PostgreSQL, passes through for SQLite.
func (db *DB) Q(query string) string {
	if db.driver == "postgres" {
		query = strings.ReplaceAll(query, "datetime('now','localtime')", "NOW()")
		return Rebind(query)
	}
	return query
}

func (db *DB) migrate() error {
	schema := schemaSQLite
	if db.driver == "postgres" {
		schema = schemaPostgres
	}
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return db.migrateMissionsPaused()
}

// migrateMissionsPaused brings pre-pause databases forward. SQLite
// cannot add a NOT NULL column to a live table, so the table is copied
// through a temp table and swapped. Idempotent: a missions table that
// already has the column is left alone.
func (db *DB) migrateMissionsPaused() error {
	if db.columnExists("missions", "paused") {
		return nil
	}
	if db.driver == "postgres" {
		_, err := db.Exec(`ALTER TABLE missions ADD COLUMN paused INTEGER NOT NULL DEFAULT 0`)
		if err != nil {
			return fmt.Errorf("add missions.paused: %w", err)
		}
		return nil
	}
	stmts := []string{
		`CREATE TABLE missions_migrate (
		    mission_id  TEXT PRIMARY KEY,
		    robot_id    TEXT NOT NULL DEFAULT '',
		    state       TEXT NOT NULL,
		    finished    INTEGER NOT NULL DEFAULT 0,
		    paused      INTEGER NOT NULL DEFAULT 0,
		    updated_at  TEXT NOT NULL DEFAULT (datetime('now','localtime'))
		)`,
		`INSERT INTO missions_migrate (mission_id, robot_id, state, finished, updated_at)
		    SELECT mission_id, robot_id, state, finished, updated_at FROM missions`,
		`DROP TABLE missions`,
		`ALTER TABLE missions_migrate RENAME TO missions`,
		`CREATE INDEX IF NOT EXISTS idx_missions_robot ON missions(robot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_missions_active ON missions(finished, paused)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add missions.paused: %w", err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table.
func (db *DB) columnExists(table, column string) bool {
	switch db.driver {
	case "sqlite":
		rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return false
		}
		defer rows.Close()
		for rows.Next() {
			var cid int
			var name, typ string
			var notnull int
			var dflt sql.NullString
			var pk int
			if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
				return false
			}
			if name == column {
				return true
			}
		}
		return false
	case "postgres":
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`,
			table, column).Scan(&count)
		return err == nil && count > 0
	}
	return false
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
