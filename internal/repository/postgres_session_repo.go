package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/lensecho/internal/model"
)

// sessionColumns はsessionsテーブルの列順。INSERTとSELECTで共有する。
const sessionColumns = `id, account_id, backend_session_id, backend_secret, email, name, expires_at, created_at`

// PostgresSessionRepo はブラウザセッションをsessionsテーブルに保存する。
// バックエンドのセッションIDとシークレットはサーバー側にのみ保持し、ブラウザにはidだけを渡す。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.BrowserSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.AccountID, s.BackendSessionID, s.BackendSecret,
		s.Email, s.Name, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert browser session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションを返す。該当なしはnil, nil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.BrowserSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND expires_at > now()`,
		id,
	)

	var s model.BrowserSession
	err := row.Scan(
		&s.ID, &s.AccountID, &s.BackendSessionID, &s.BackendSecret,
		&s.Email, &s.Name, &s.ExpiresAt, &s.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select browser session: %w", err)
	}
	return &s, nil
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete browser session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除して件数を返す。クリーンアップジョブから呼ばれる。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired browser sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
