// Package signup はサインアップフォームの入力検証と送信処理を提供する。
package signup

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/lensecho/internal/security"
)

// Input はサインアップフォームの入力値。
// 送信1回ごとに生成し、送信後は保持しない。
type Input struct {
	Name     string `json:"name" form:"name" validate:"required,min=2,max=128"`
	Username string `json:"username" form:"username" validate:"required,min=2,max=64"`
	Email    string `json:"email" form:"email" validate:"required,email,max=254"`
	Password string `json:"password" form:"password" validate:"required,min=8,max=256"`
}

// SignInInput はサインインフォームの入力値。
type SignInInput struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=254"`
	Password string `json:"password" form:"password" validate:"required,max=256"`
}

// FieldErrors はフォームのフィールド名をキーとする検証メッセージ。
type FieldErrors map[string]string

// ValidationError は入力検証エラー。フィールドごとのメッセージを持つ。
type ValidationError struct {
	Fields FieldErrors
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

// Schema はサインアップ入力の正規化と検証を行う。
// validator.Validateはキャッシュを持つため、Schemaはプロセス内で使い回す。
type Schema struct {
	validate  *validator.Validate
	sanitizer security.TextSanitizer
}

// NewSchema はSchemaの新しいインスタンスを生成する。
func NewSchema(sanitizer security.TextSanitizer) *Schema {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーのフィールド名をフォームのname属性（jsonタグ）に揃える
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Schema{validate: v, sanitizer: sanitizer}
}

// Normalize は検証前に入力を整形する。
// 前後の空白を除去し、メールアドレスを小文字化し、名前とユーザー名からマークアップを除去する。
// パスワードは変更しない。
func (s *Schema) Normalize(in Input) Input {
	return Input{
		Name:     s.sanitizer.SanitizeText(in.Name),
		Username: s.sanitizer.SanitizeText(in.Username),
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Password: in.Password,
	}
}

// Validate は入力を検証し、不正なフィールドがあれば*ValidationErrorを返す。
func (s *Schema) Validate(in Input) error {
	return s.validateStruct(in)
}

// ValidateSignIn はサインイン入力を検証する。
// メールアドレスは小文字化して返す。
func (s *Schema) ValidateSignIn(in SignInInput) (SignInInput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validateStruct(in); err != nil {
		return in, err
	}
	return in, nil
}

func (s *Schema) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}

	fields := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		if _, exists := fields[fe.Field()]; exists {
			continue
		}
		fields[fe.Field()] = messageFor(fe)
	}
	return &ValidationError{Fields: fields}
}

// messageFor は検証タグごとのユーザー向けメッセージを返す。
func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Invalid email address."
	case "min":
		if fe.Field() == "password" {
			return fmt.Sprintf("Password must be at least %s characters.", fe.Param())
		}
		return "Too short"
	case "max":
		return "Too long"
	default:
		return "Invalid value."
	}
}
