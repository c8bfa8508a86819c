package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"mailview/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for driver (sqlite3, mysql or postgres).
func Open(driver string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[driver]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", driver)
	}

	var (
		db  *sql.DB
		err error
	)

	switch Normalize(driver) {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if dbCfg.DSN == ":memory:" {
			// every pooled connection would otherwise get its own empty database
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "charset=utf8mb4&parseTime=true"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s",
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("postgres", strings.TrimSpace(dsn))
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the users table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch Normalize(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				email TEXT NOT NULL,
				time_zone TEXT NOT NULL,
				token TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(128) NOT NULL,
				display_name VARCHAR(255) NOT NULL,
				email VARCHAR(320) NOT NULL,
				time_zone VARCHAR(128) NOT NULL,
				token MEDIUMTEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(128) PRIMARY KEY,
				display_name VARCHAR(255) NOT NULL,
				email VARCHAR(320) NOT NULL,
				time_zone VARCHAR(128) NOT NULL,
				token TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
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

// Rebind rewrites ? placeholders into $1..$n for postgres. Other drivers get
// the query back unchanged.
func Rebind(driver, query string) string {
	if Normalize(driver) != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize maps driver aliases onto sqlite3, mysql or postgres.
func Normalize(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pq":
		return "postgres"
	default:
		return strings.ToLower(driver)
	}
}
