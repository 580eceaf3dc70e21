// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証バックエンド上のアカウントを表す。
// バックエンドが払い出すアカウントIDで一意に識別され、作成後は変更されない。
type Identity struct {
	AccountID string
	Email     string
	Name      string
	CreatedAt time.Time
}

// ProfileRecord はIdentityとは別に保存されるアプリケーション側のユーザープロフィール。
// サインアップ成功時に1度だけ作成され、ローカルでは更新しない。
type ProfileRecord struct {
	DocumentID   string
	DatabaseID   string
	CollectionID string
	AccountID    string // Identity.AccountID への参照
	Name         string
	Username     string // 任意
	Email        string
	ImageURL     string
	CreatedAt    time.Time
}

// Session はサインインで発行されるバックエンドの認証セッション。
// 有効期限・失効はバックエンドが管理する。
type Session struct {
	ID        string
	AccountID string
	Secret    string
	ExpiresAt time.Time
}

// BrowserSession はHTTP Only Cookieとバックエンドセッションを紐付けるローカルセッション。
type BrowserSession struct {
	ID               string
	AccountID        string
	BackendSessionID string
	BackendSecret    string
	Email            string
	Name             string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// IdentityParams はIdentity作成時にバックエンドへ渡す値。
type IdentityParams struct {
	AccountID string
	Email     string
	Password  string
	Name      string
}

// ProfileFields はプロフィールドキュメントとして保存するフィールド。
type ProfileFields struct {
	AccountID string
	Name      string
	Username  string
	Email     string
	ImageURL  string
}

// Credentials はサインインに使用するメールアドレスとパスワード。
type Credentials struct {
	Email    string
	Password string
}
