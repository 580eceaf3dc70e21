package signup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/lensecho/internal/account"
	"github.com/hitoshi/lensecho/internal/metrics"
	"github.com/hitoshi/lensecho/internal/model"
)

// AccountService はサインアップで使用するアカウント操作のインターフェース。
type AccountService interface {
	CreateUserAccount(ctx context.Context, user account.NewUser) (*model.ProfileRecord, error)
	SignInAccount(ctx context.Context, creds model.Credentials) (*model.Session, error)
}

var _ AccountService = (*account.Service)(nil)

// Stage はサインアップ処理で失敗した段階。
type Stage string

const (
	StageIdentity Stage = "identity"
	StageProfile  Stage = "profile"
	StageSession  Stage = "session"
)

// Result はリモート処理まで進んだ送信の結果。
// 失敗時はNotificationにユーザー向けの共通メッセージが入る。
type Result struct {
	Profile      *model.ProfileRecord
	Session      *model.Session
	Notification string
	Stage        Stage  // 失敗した段階。成功時は空
	Code         string // 失敗時のエラーコード
	Err          error  // 失敗の原因（ログ用）
}

// Failed は送信がリモート処理で失敗したかを返す。
func (r *Result) Failed() bool {
	return r.Notification != ""
}

// Controller はサインアップフォームの送信を処理する。
// 検証 → アカウント作成 → サインインの順に逐次実行し、失敗した時点で中断する。
// リトライや作成済みアカウントの取り消しは行わない。
// 送信ごとの状態は持たないため、同時に複数の送信を処理できる。
type Controller struct {
	schema   *Schema
	accounts AccountService
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewController はControllerの新しいインスタンスを生成する。
func NewController(schema *Schema, accounts AccountService, collector metrics.MetricsCollector, logger *slog.Logger) *Controller {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		schema:   schema,
		accounts: accounts,
		metrics:  collector,
		logger:   logger,
	}
}

// Submit はサインアップ入力を検証し、アカウント作成とサインインを行う。
// 検証エラーの場合は*ValidationErrorを返し、リモート呼び出しは行わない。
// リモート処理の失敗はエラーではなく、NotificationとStageを設定したResultで返す。
func (c *Controller) Submit(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordSignupLatency(time.Since(start))
	}()

	in = c.schema.Normalize(in)
	if err := c.schema.Validate(in); err != nil {
		c.metrics.RecordSignup(metrics.SignupOutcomeValidationFailed)
		return nil, err
	}

	profile, err := c.createUserAccount(ctx, in)
	if err != nil {
		result := failure(stageOf(err), err)
		c.record(result)
		return result, nil
	}

	session, err := c.accounts.SignInAccount(ctx, model.Credentials{
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		// アカウントとプロフィールは作成済みのまま残る
		result := failure(StageSession, err)
		result.Profile = profile
		c.logger.Warn("サインアップ後のサインインに失敗しました。アカウントは作成済みです",
			slog.String("account_id", profile.AccountID),
			slog.String("error", err.Error()),
		)
		c.record(result)
		return result, nil
	}

	result := &Result{Profile: profile, Session: session}
	c.record(result)
	return result, nil
}

func (c *Controller) createUserAccount(ctx context.Context, in Input) (*model.ProfileRecord, error) {
	return c.accounts.CreateUserAccount(ctx, account.NewUser{
		Name:     in.Name,
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
}

func (c *Controller) record(result *Result) {
	if !result.Failed() {
		c.metrics.RecordSignup(metrics.SignupOutcomeSuccess)
		return
	}
	switch result.Stage {
	case StageIdentity:
		c.metrics.RecordSignup(metrics.SignupOutcomeIdentityFailed)
	case StageProfile:
		c.metrics.RecordSignup(metrics.SignupOutcomeProfileFailed)
	default:
		c.metrics.RecordSignup(metrics.SignupOutcomeSessionFailed)
	}
}

func failure(stage Stage, err error) *Result {
	result := &Result{
		Notification: model.SignupFailedMessage,
		Stage:        stage,
		Err:          err,
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		result.Code = apiErr.Code
	}
	return result
}

// stageOf はアカウント作成のエラーから失敗した段階を判定する。
func stageOf(err error) Stage {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeProfilePersistenceFailed {
		return StageProfile
	}
	return StageIdentity
}
