package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mailview/internal/models"
	"mailview/internal/storage"
)

// SQL is a Directory persisted in the users table.
type SQL struct {
	db     *sql.DB
	driver string
	cipher *TokenCipher
}

// NewSQL wraps a migrated database handle.
func NewSQL(db *sql.DB, driver string, cipher *TokenCipher) *SQL {
	return &SQL{db: db, driver: driver, cipher: cipher}
}

func (s *SQL) q(query string) string {
	return storage.Rebind(s.driver, query)
}

func (s *SQL) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, display_name, email, time_zone, created_at, updated_at FROM users WHERE id = ?`), id,
	).Scan(&user.ID, &user.DisplayName, &user.Email, &user.TimeZone, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// Put inserts or updates the user's profile columns in one statement; the
// token and created_at columns of an existing row are left alone.
func (s *SQL) Put(ctx context.Context, user *models.User) error {
	if err := validateUser(user); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.q(upsertUserQuery(s.driver)),
		user.ID, user.DisplayName, user.Email, user.TimeZone, now, now,
	); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT created_at, updated_at FROM users WHERE id = ?`), user.ID).
		Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return fmt.Errorf("reload user: %w", err)
	}
	return nil
}

func upsertUserQuery(driver string) string {
	const insert = `INSERT INTO users (id, display_name, email, time_zone, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	if storage.Normalize(driver) == "mysql" {
		return insert + ` ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), email = VALUES(email),
			time_zone = VALUES(time_zone), updated_at = VALUES(updated_at)`
	}
	return insert + ` ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email,
		time_zone = excluded.time_zone, updated_at = excluded.updated_at`
}

func (s *SQL) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) Token(ctx context.Context, id string) (*oauth2.Token, error) {
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT token FROM users WHERE id = ?`), id).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if !stored.Valid || strings.TrimSpace(stored.String) == "" {
		return nil, fmt.Errorf("no token stored for %s", id)
	}
	return openToken(s.cipher, stored.String)
}

func (s *SQL) SetToken(ctx context.Context, id string, tok *oauth2.Token) error {
	sealed, err := sealToken(s.cipher, tok)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE users SET token = ?, updated_at = ? WHERE id = ?`),
		sealed, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
