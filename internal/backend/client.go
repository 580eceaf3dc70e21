// Package backend はホスティング型バックエンド（Appwrite互換REST API）のクライアントを提供する。
// アカウント作成・プロフィールドキュメント保存・セッション作成を扱う。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/lensecho/internal/metrics"
	"github.com/hitoshi/lensecho/internal/model"
)

const (
	headerProject = "X-Appwrite-Project"
	headerKey     = "X-Appwrite-Key"
	headerSession = "X-Appwrite-Session"

	// sessionCookiePrefix はセッションシークレットを格納するCookie名の接頭辞。
	// Cookie名は a_session_<projectID> となる。
	sessionCookiePrefix = "a_session_"

	// maxErrorBodySize はエラーレスポンスとして読み取る最大バイト数。
	maxErrorBodySize = 64 * 1024
)

// バックエンド操作名（メトリクス・ログのラベル）
const (
	OpCreateIdentity = "create_identity"
	OpCreateDocument = "create_document"
	OpCreateSession  = "create_session"
	OpDeleteSession  = "delete_session"
	OpGetAccount     = "get_account"
)

// Config はバックエンド接続設定。
// プロセス全体のグローバル状態を持たず、生成時に明示的に渡す。
type Config struct {
	Endpoint         string // 例: https://cloud.appwrite.io/v1
	ProjectID        string
	APIKey           string // 任意。サーバーサイドキー
	DatabaseID       string
	UserCollectionID string
	Timeout          time.Duration
}

// Validate は必須項目が設定されているかを検証する。
func (c Config) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "Endpoint")
	}
	if c.ProjectID == "" {
		missing = append(missing, "ProjectID")
	}
	if c.DatabaseID == "" {
		missing = append(missing, "DatabaseID")
	}
	if c.UserCollectionID == "" {
		missing = append(missing, "UserCollectionID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("backend config is incomplete: %v", missing)
	}
	if _, err := url.Parse(c.Endpoint); err != nil {
		return fmt.Errorf("backend endpoint is invalid: %w", err)
	}
	return nil
}

// Client はバックエンドREST APIのクライアント。
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はcfg.Timeoutを設定したクライアントを使用する。
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger, collector metrics.MetricsCollector) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		now:        time.Now,
	}, nil
}

// Config はクライアントの設定を返す。
func (c *Client) Config() Config {
	return c.cfg
}

// accountResponse は POST /account のレスポンス。
type accountResponse struct {
	ID        string `json:"$id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"$createdAt"`
}

// documentResponse は POST /databases/{db}/collections/{col}/documents のレスポンス。
type documentResponse struct {
	ID           string `json:"$id"`
	DatabaseID   string `json:"$databaseId"`
	CollectionID string `json:"$collectionId"`
	CreatedAt    string `json:"$createdAt"`
	AccountID    string `json:"accountId"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ImageURL     string `json:"imageUrl"`
}

// sessionResponse は POST /account/sessions/email のレスポンス。
type sessionResponse struct {
	ID     string `json:"$id"`
	UserID string `json:"userId"`
	Expire string `json:"expire"`
	Secret string `json:"secret"`
}

// errorResponse はバックエンドのエラーレスポンス。
type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

// CreateIdentity は認証バックエンドにアカウントを作成する。
func (c *Client) CreateIdentity(ctx context.Context, params model.IdentityParams) (*model.Identity, error) {
	body := map[string]string{
		"userId":   params.AccountID,
		"email":    params.Email,
		"password": params.Password,
		"name":     params.Name,
	}

	var out accountResponse
	if _, err := c.do(ctx, OpCreateIdentity, http.MethodPost, "/account", nil, body, &out); err != nil {
		return nil, err
	}

	return &model.Identity{
		AccountID: out.ID,
		Email:     out.Email,
		Name:      out.Name,
		CreatedAt: parseTime(out.CreatedAt),
	}, nil
}

// CreateDocument は指定データベース・コレクションにプロフィールドキュメントを作成する。
// databaseID・collectionIDが空の場合は設定値を使用する。
func (c *Client) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, fields model.ProfileFields) (*model.ProfileRecord, error) {
	if databaseID == "" {
		databaseID = c.cfg.DatabaseID
	}
	if collectionID == "" {
		collectionID = c.cfg.UserCollectionID
	}

	data := map[string]string{
		"accountId": fields.AccountID,
		"name":      fields.Name,
		"email":     fields.Email,
		"imageUrl":  fields.ImageURL,
	}
	if fields.Username != "" {
		data["username"] = fields.Username
	}
	body := map[string]any{
		"documentId": documentID,
		"data":       data,
	}

	path := fmt.Sprintf("/databases/%s/collections/%s/documents",
		url.PathEscape(databaseID), url.PathEscape(collectionID))

	var out documentResponse
	if _, err := c.do(ctx, OpCreateDocument, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}

	record := &model.ProfileRecord{
		DocumentID:   out.ID,
		DatabaseID:   out.DatabaseID,
		CollectionID: out.CollectionID,
		AccountID:    out.AccountID,
		Name:         out.Name,
		Username:     out.Username,
		Email:        out.Email,
		ImageURL:     out.ImageURL,
		CreatedAt:    parseTime(out.CreatedAt),
	}
	if record.DatabaseID == "" {
		record.DatabaseID = databaseID
	}
	if record.CollectionID == "" {
		record.CollectionID = collectionID
	}
	return record, nil
}

// CreateSession はメールアドレスとパスワードでセッションを作成する。
// シークレットはレスポンスボディから取得し、空の場合は a_session_<project> Cookieから取得する。
func (c *Client) CreateSession(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	body := map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}

	var out sessionResponse
	resp, err := c.do(ctx, OpCreateSession, http.MethodPost, "/account/sessions/email", nil, body, &out)
	if err != nil {
		return nil, err
	}

	secret := out.Secret
	if secret == "" {
		secret = c.sessionSecretFromCookies(resp.Cookies())
	}

	return &model.Session{
		ID:        out.ID,
		AccountID: out.UserID,
		Secret:    secret,
		ExpiresAt: parseTime(out.Expire),
	}, nil
}

// DeleteSession はバックエンドのセッションを削除する。
func (c *Client) DeleteSession(ctx context.Context, session model.Session) error {
	if session.ID == "" {
		return errors.New("session id is empty")
	}

	headers := map[string]string{}
	if session.Secret != "" {
		headers[headerSession] = session.Secret
	}

	path := "/account/sessions/" + url.PathEscape(session.ID)
	_, err := c.do(ctx, OpDeleteSession, http.MethodDelete, path, headers, nil, nil)
	return err
}

// GetAccount はセッションに紐づくアカウントを取得する。
func (c *Client) GetAccount(ctx context.Context, session model.Session) (*model.Identity, error) {
	if session.Secret == "" {
		return nil, errors.New("session secret is empty")
	}

	headers := map[string]string{headerSession: session.Secret}

	var out accountResponse
	if _, err := c.do(ctx, OpGetAccount, http.MethodGet, "/account", headers, nil, &out); err != nil {
		return nil, err
	}

	return &model.Identity{
		AccountID: out.ID,
		Email:     out.Email,
		Name:      out.Name,
		CreatedAt: parseTime(out.CreatedAt),
	}, nil
}

// AvatarInitialsURL は名前のイニシャルから生成されるアバター画像のURLを返す。
// URLを組み立てるだけでネットワークアクセスは行わない。
func (c *Client) AvatarInitialsURL(name string) string {
	return AvatarInitialsURL(c.cfg.Endpoint, c.cfg.ProjectID, name)
}

// AvatarInitialsURL はエンドポイントとプロジェクトIDからイニシャルアバターのURLを組み立てる。
func AvatarInitialsURL(endpoint, projectID, name string) string {
	q := url.Values{}
	q.Set("name", name)
	q.Set("project", projectID)
	return strings.TrimRight(endpoint, "/") + "/avatars/initials?" + q.Encode()
}

func (c *Client) sessionSecretFromCookies(cookies []*http.Cookie) string {
	name := sessionCookiePrefix + c.cfg.ProjectID
	for _, ck := range cookies {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// do はリクエストを送信し、2xxの場合はレスポンスをoutにデコードする。
// 非2xxの場合は*Errorを返す。
func (c *Client) do(ctx context.Context, op, method, path string, headers map[string]string, body, out any) (*http.Response, error) {
	start := c.now()
	resp, err := c.send(ctx, op, method, path, headers, body, out)

	outcome := metrics.BackendOutcomeOK
	if err != nil {
		outcome = metrics.BackendOutcomeError
	}
	c.metrics.RecordBackendCall(op, outcome, c.now().Sub(start))

	return resp, err
}

func (c *Client) send(ctx context.Context, op, method, path string, headers map[string]string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerProject, c.cfg.ProjectID)
	if c.cfg.APIKey != "" {
		req.Header.Set(headerKey, c.cfg.APIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("バックエンドの呼び出しに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordBackendStatus(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp)
		c.logger.Error("バックエンドがエラーステータスを返しました",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("type", apiErr.Type),
			slog.String("message", apiErr.Message),
		)
		return resp, apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("バックエンドのレスポンスのパースに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return resp, fmt.Errorf("%s: レスポンスJSONのパースに失敗しました: %w", op, err)
	}

	return resp, nil
}

// decodeError は非2xxレスポンスを*Errorに変換する。
// ボディがJSONでない場合はHTTPステータステキストをメッセージとする。
func decodeError(resp *http.Response) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil && len(raw) > 0 {
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil {
			apiErr.Type = er.Type
			apiErr.Message = er.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// parseTime はRFC3339形式の時刻をパースする。失敗時はゼロ値を返す。
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
