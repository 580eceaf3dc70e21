// Package auth はブラウザセッションの発行・検証・破棄を提供する。
// ブラウザにはランダムなセッションIDのみを渡し、バックエンドのセッションシークレットはサーバー側で保持する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lensecho/internal/account"
	"github.com/hitoshi/lensecho/internal/model"
	"github.com/hitoshi/lensecho/internal/repository"
)

// AccountSessions はバックエンドセッションの作成・削除のインターフェース。
type AccountSessions interface {
	SignInAccount(ctx context.Context, creds model.Credentials) (*model.Session, error)
	SignOutAccount(ctx context.Context, session model.Session) error
	GetAccount(ctx context.Context, session model.Session) (*model.Identity, error)
}

var _ AccountSessions = (*account.Service)(nil)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はブラウザセッションに関するビジネスロジックを提供する。
type Service struct {
	accounts    AccountSessions
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accounts AccountSessions,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		accounts:    accounts,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// StartSession はバックエンドセッションに紐付くブラウザセッションを発行する。
// 有効期限はSessionMaxAgeとバックエンドセッションの期限の早い方とする。
func (s *Service) StartSession(ctx context.Context, backendSession *model.Session, email, name string) (*model.BrowserSession, error) {
	if backendSession == nil {
		return nil, errors.New("backend session is required")
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)
	if !backendSession.ExpiresAt.IsZero() && backendSession.ExpiresAt.Before(expiresAt) {
		expiresAt = backendSession.ExpiresAt
	}

	session := &model.BrowserSession{
		ID:               sessionID,
		AccountID:        backendSession.AccountID,
		BackendSessionID: backendSession.ID,
		BackendSecret:    backendSession.Secret,
		Email:            email,
		Name:             name,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session started",
		slog.String("account_id", session.AccountID),
	)
	return session, nil
}

// SignIn はメールアドレスとパスワードでサインインし、ブラウザセッションを発行する。
// 認証失敗はaccount.Serviceの*model.APIErrorをそのまま返す。
// 表示名はバックエンドのアカウントから取得し、取得できない場合は空のままサインインを続ける。
func (s *Service) SignIn(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error) {
	backendSession, err := s.accounts.SignInAccount(ctx, creds)
	if err != nil {
		return nil, err
	}

	var name string
	identity, err := s.accounts.GetAccount(ctx, *backendSession)
	if err != nil {
		slog.Warn("account name could not be loaded",
			slog.String("account_id", backendSession.AccountID),
			slog.String("error", err.Error()),
		)
	} else {
		name = identity.Name
	}
	return s.StartSession(ctx, backendSession, creds.Email, name)
}

// Logout はブラウザセッションとバックエンドセッションを破棄する。
// バックエンドセッションの削除に失敗してもブラウザセッションは削除する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if session != nil && session.BackendSessionID != "" {
		if err := s.accounts.SignOutAccount(ctx, model.Session{
			ID:        session.BackendSessionID,
			AccountID: session.AccountID,
			Secret:    session.BackendSecret,
		}); err != nil {
			slog.Warn("backend session could not be deleted",
				slog.String("account_id", session.AccountID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentSession は有効なブラウザセッションを取得する。
func (s *Service) GetCurrentSession(ctx context.Context, sessionID string) (*model.BrowserSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
