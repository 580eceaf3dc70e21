package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/lensecho/internal/account"
	"github.com/hitoshi/lensecho/internal/backend"
	"github.com/hitoshi/lensecho/internal/metrics"
	"github.com/hitoshi/lensecho/internal/model"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// LocalBackendConfig はローカルバックエンドの設定。
type LocalBackendConfig struct {
	// Endpoint と ProjectID はアバターURLの組み立てに使用する
	Endpoint   string
	ProjectID  string
	SessionTTL time.Duration
	BcryptCost int
}

// LocalBackend はホスティング型バックエンドと同じ操作をPostgreSQL上で提供する。
// パスワードはSHA-256で72バイト未満に畳み込んでからbcryptでハッシュ化し、セッションシークレットはSHA-256ハッシュのみ保存する。
// エラーはリモート実装と同じく*backend.Errorで返す。
type LocalBackend struct {
	db      *sql.DB
	cfg     LocalBackendConfig
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewLocalBackend はLocalBackendを生成する。
func NewLocalBackend(db *sql.DB, cfg LocalBackendConfig, collector metrics.MetricsCollector) *LocalBackend {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 365 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &LocalBackend{
		db:      db,
		cfg:     cfg,
		metrics: collector,
		now:     time.Now,
	}
}

// CreateIdentity はidentitiesテーブルにアカウントを作成する。
// メールアドレスが重複する場合は409の*backend.Errorを返す。
func (b *LocalBackend) CreateIdentity(ctx context.Context, params model.IdentityParams) (identity *model.Identity, err error) {
	defer b.observe(backend.OpCreateIdentity, b.now(), &err)

	if params.AccountID == "" {
		params.AccountID = uuid.NewString()
	}

	hash, err := hashPassword(params.Password, b.cfg.BcryptCost)
	if err != nil {
		return nil, &backend.Error{
			StatusCode: http.StatusBadRequest,
			Type:       "password_invalid",
			Message:    err.Error(),
		}
	}

	identity = &model.Identity{
		AccountID: params.AccountID,
		Email:     strings.ToLower(params.Email),
		Name:      params.Name,
		CreatedAt: b.now(),
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO identities (account_id, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.AccountID, identity.Email, identity.Name, string(hash), identity.CreatedAt,
	)
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return nil, &backend.Error{
				StatusCode: http.StatusConflict,
				Type:       "user_already_exists",
				Message:    "A user with the same id or email already exists.",
			}
		}
		return nil, fmt.Errorf("failed to insert identity: %w", err)
	}

	return identity, nil
}

// CreateDocument はprofilesテーブルにプロフィールを保存する。
// 参照先のIdentityが存在しない場合は400の*backend.Errorを返す。
func (b *LocalBackend) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, fields model.ProfileFields) (record *model.ProfileRecord, err error) {
	defer b.observe(backend.OpCreateDocument, b.now(), &err)

	if documentID == "" {
		documentID = uuid.NewString()
	}

	record = &model.ProfileRecord{
		DocumentID:   documentID,
		DatabaseID:   databaseID,
		CollectionID: collectionID,
		AccountID:    fields.AccountID,
		Name:         fields.Name,
		Username:     fields.Username,
		Email:        fields.Email,
		ImageURL:     fields.ImageURL,
		CreatedAt:    b.now(),
	}

	var username sql.NullString
	if fields.Username != "" {
		username = sql.NullString{String: fields.Username, Valid: true}
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO profiles (document_id, database_id, collection_id, account_id, name, username, email, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.DocumentID, record.DatabaseID, record.CollectionID, record.AccountID,
		record.Name, username, record.Email, record.ImageURL, record.CreatedAt,
	)
	if err != nil {
		switch {
		case isPQCode(err, pqUniqueViolation):
			return nil, &backend.Error{
				StatusCode: http.StatusConflict,
				Type:       "document_already_exists",
				Message:    "Document with the requested ID already exists.",
			}
		case isPQCode(err, pqForeignKeyViolation):
			return nil, &backend.Error{
				StatusCode: http.StatusBadRequest,
				Type:       "document_invalid_structure",
				Message:    "Profile references an account that does not exist.",
			}
		}
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}

	return record, nil
}

// CreateSession はメールアドレスとパスワードを照合し、セッションを作成する。
// 照合に失敗した場合は401の*backend.Errorを返す。
func (b *LocalBackend) CreateSession(ctx context.Context, creds model.Credentials) (session *model.Session, err error) {
	defer b.observe(backend.OpCreateSession, b.now(), &err)

	var accountID, passwordHash string
	err = b.db.QueryRowContext(ctx,
		`SELECT account_id, password_hash FROM identities WHERE email = $1`,
		strings.ToLower(creds.Email),
	).Scan(&accountID, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if err := comparePassword(passwordHash, creds.Password); err != nil {
		return nil, invalidCredentials()
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	now := b.now()
	session = &model.Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Secret:    secret,
		ExpiresAt: now.Add(b.cfg.SessionTTL),
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO account_sessions (id, account_id, secret_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.AccountID, hashSecret(secret), session.ExpiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account session: %w", err)
	}

	return session, nil
}

// DeleteSession はセッションIDとシークレットが一致するセッションを削除する。
// 一致するセッションが無い場合は404の*backend.Errorを返す。
func (b *LocalBackend) DeleteSession(ctx context.Context, session model.Session) (err error) {
	defer b.observe(backend.OpDeleteSession, b.now(), &err)

	result, err := b.db.ExecContext(ctx,
		`DELETE FROM account_sessions WHERE id = $1 AND secret_hash = $2`,
		session.ID, hashSecret(session.Secret),
	)
	if err != nil {
		return fmt.Errorf("failed to delete account session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &backend.Error{
			StatusCode: http.StatusNotFound,
			Type:       "user_session_not_found",
			Message:    "The current user session could not be found.",
		}
	}
	return nil
}

// GetAccount は有効なセッションに紐づくアカウントを返す。
// セッションが見つからないか期限切れの場合は401の*backend.Errorを返す。
func (b *LocalBackend) GetAccount(ctx context.Context, session model.Session) (identity *model.Identity, err error) {
	defer b.observe(backend.OpGetAccount, b.now(), &err)

	identity = &model.Identity{}
	err = b.db.QueryRowContext(ctx,
		`SELECT i.account_id, i.email, i.name, i.created_at
		 FROM account_sessions s
		 JOIN identities i ON i.account_id = s.account_id
		 WHERE s.id = $1 AND s.secret_hash = $2 AND s.expires_at > $3`,
		session.ID, hashSecret(session.Secret), b.now(),
	).Scan(&identity.AccountID, &identity.Email, &identity.Name, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &backend.Error{
			StatusCode: http.StatusUnauthorized,
			Type:       "user_unauthorized",
			Message:    "The current user is not authorized to perform the requested action.",
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return identity, nil
}

// AvatarInitialsURL は名前のイニシャルから生成されるアバター画像のURLを返す。
func (b *LocalBackend) AvatarInitialsURL(name string) string {
	return backend.AvatarInitialsURL(b.cfg.Endpoint, b.cfg.ProjectID, name)
}

// DeleteExpiredSessions は期限切れのaccount_sessionsを削除し、削除件数を返す。
func (b *LocalBackend) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := b.db.ExecContext(ctx,
		`DELETE FROM account_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired account sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (b *LocalBackend) observe(op string, start time.Time, errp *error) {
	outcome := metrics.BackendOutcomeOK
	if *errp != nil {
		outcome = metrics.BackendOutcomeError
	}
	b.metrics.RecordBackendCall(op, outcome, b.now().Sub(start))
}

func invalidCredentials() *backend.Error {
	return &backend.Error{
		StatusCode: http.StatusUnauthorized,
		Type:       "user_invalid_credentials",
		Message:    "Invalid credentials. Please check the email and password.",
	}
}

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// generateSecret は暗号的に安全なセッションシークレットを生成する。
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// passwordDigest はbcryptの入力上限（72バイト）を超えるパスワードでも
// 全体が照合に使われるよう、SHA-256のbase64表現（44バイト）に変換する。
func passwordDigest(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func hashPassword(password string, cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword(passwordDigest(password), cost)
}

func comparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), passwordDigest(password))
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// compile-time interface check
var _ account.Backend = (*LocalBackend)(nil)
