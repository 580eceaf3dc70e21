// Package account はバックエンド上のアカウント作成・プロフィール保存・セッション作成を提供する。
// 各操作は失敗時にログを出力し、型付きの*model.APIErrorを呼び出し元へ返す。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/lensecho/internal/backend"
	"github.com/hitoshi/lensecho/internal/model"
)

// Backend はアカウント操作を委譲するバックエンドのインターフェース。
// backend.Client（REST）とrepository.LocalBackend（PostgreSQL）が実装する。
type Backend interface {
	// CreateIdentity は認証バックエンドにアカウントを作成する。
	CreateIdentity(ctx context.Context, params model.IdentityParams) (*model.Identity, error)
	// CreateDocument は指定データベース・コレクションにプロフィールドキュメントを作成する。
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, fields model.ProfileFields) (*model.ProfileRecord, error)
	// CreateSession はメールアドレスとパスワードでセッションを作成する。
	CreateSession(ctx context.Context, creds model.Credentials) (*model.Session, error)
	// DeleteSession はセッションを削除する。
	DeleteSession(ctx context.Context, session model.Session) error
	// GetAccount はセッションに紐づくアカウントを取得する。
	GetAccount(ctx context.Context, session model.Session) (*model.Identity, error)
	// AvatarInitialsURL は名前のイニシャルからアバター画像URLを導出する。ネットワークアクセスは行わない。
	AvatarInitialsURL(name string) string
}

var (
	_ Backend = (*backend.Client)(nil)
)

// Config はプロフィールドキュメントの保存先。
type Config struct {
	DatabaseID       string
	UserCollectionID string
}

// NewUser はサインアップで受け取るアカウント作成の入力。
type NewUser struct {
	Name     string
	Username string
	Email    string
	Password string
}

// Service はアカウント操作のサービス層。
type Service struct {
	backend Backend
	config  Config
	logger  *slog.Logger
	newID   func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(b Backend, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: b,
		config:  config,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// CreateUserAccount はIdentityを作成し、イニシャルアバターを付けたプロフィールを保存する。
// Identity作成に失敗した場合はプロフィール保存を行わない。
func (s *Service) CreateUserAccount(ctx context.Context, user NewUser) (*model.ProfileRecord, error) {
	identity, err := s.backend.CreateIdentity(ctx, model.IdentityParams{
		AccountID: s.newID(),
		Email:     user.Email,
		Password:  user.Password,
		Name:      user.Name,
	})
	if err == nil && identity == nil {
		err = errors.New("backend returned no identity")
	}
	if err != nil {
		s.logger.Error("アカウントの作成に失敗しました",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		if backend.IsConflict(err) {
			return nil, model.NewAccountAlreadyExistsError(err)
		}
		return nil, model.NewIdentityCreationFailedError(err)
	}

	avatarURL := s.backend.AvatarInitialsURL(identity.Name)

	record, err := s.SaveUserToDB(ctx, model.ProfileFields{
		AccountID: identity.AccountID,
		Name:      identity.Name,
		Username:  user.Username,
		Email:     identity.Email,
		ImageURL:  avatarURL,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("アカウントを作成しました",
		slog.String("account_id", identity.AccountID),
		slog.String("document_id", record.DocumentID),
	)
	return record, nil
}

// SaveUserToDB は設定されたデータベース・コレクションにプロフィールドキュメントを保存する。
// ドキュメントIDは呼び出しごとに新規に払い出す。
func (s *Service) SaveUserToDB(ctx context.Context, fields model.ProfileFields) (*model.ProfileRecord, error) {
	record, err := s.backend.CreateDocument(ctx, s.config.DatabaseID, s.config.UserCollectionID, s.newID(), fields)
	if err == nil && record == nil {
		err = errors.New("backend returned no document")
	}
	if err != nil {
		s.logger.Error("プロフィールの保存に失敗しました",
			slog.String("account_id", fields.AccountID),
			slog.String("database_id", s.config.DatabaseID),
			slog.String("collection_id", s.config.UserCollectionID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProfilePersistenceFailedError(err)
	}
	return record, nil
}

// SignInAccount はメールアドレスとパスワードでセッションを作成し、作成したSessionを返す。
func (s *Service) SignInAccount(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	session, err := s.backend.CreateSession(ctx, creds)
	if err == nil && session == nil {
		err = errors.New("backend returned no session")
	}
	if err != nil {
		s.logger.Error("セッションの作成に失敗しました",
			slog.String("email", creds.Email),
			slog.String("error", err.Error()),
		)
		if backend.IsUnauthorized(err) {
			return nil, model.NewInvalidCredentialsError(err)
		}
		return nil, model.NewSessionCreationFailedError(err)
	}

	s.logger.Info("セッションを作成しました",
		slog.String("account_id", session.AccountID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// GetAccount はバックエンドセッションに紐づくアカウントを返す。
func (s *Service) GetAccount(ctx context.Context, session model.Session) (*model.Identity, error) {
	identity, err := s.backend.GetAccount(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return identity, nil
}

// SignOutAccount はバックエンドのセッションを削除する。
func (s *Service) SignOutAccount(ctx context.Context, session model.Session) error {
	if err := s.backend.DeleteSession(ctx, session); err != nil {
		s.logger.Warn("セッションの削除に失敗しました",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete backend session: %w", err)
	}
	return nil
}
