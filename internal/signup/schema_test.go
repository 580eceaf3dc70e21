package signup

import (
	"errors"
	"strings"
	"testing"
)

func validInput() Input {
	return Input{
		Name:     "Ana Lee",
		Username: "ana",
		Email:    "ana@example.com",
		Password: "Secret123",
	}
}

func TestSchema_Validate_ValidInput(t *testing.T) {
	s := NewSchema(nil)

	if err := s.Validate(validInput()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// TestSchema_Validate_PasswordLength はパスワード長の境界を検証する。
// 上限は文字数で数えるため、マルチバイト文字では72バイトを大きく超える。
func TestSchema_Validate_PasswordLength(t *testing.T) {
	s := NewSchema(nil)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"7 chars", "Secret1", true},
		{"8 chars", "Secret12", false},
		{"80 bytes", strings.Repeat("p", 80), false},
		{"256 multibyte chars", strings.Repeat("パ", 256), false},
		{"257 chars", strings.Repeat("p", 257), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			in.Password = tt.password
			err := s.Validate(in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_Validate_InvalidFields(t *testing.T) {
	s := NewSchema(nil)

	tests := []struct {
		name      string
		mutate    func(in *Input)
		wantField string
		wantMsg   string
	}{
		{
			name:      "名前が空",
			mutate:    func(in *Input) { in.Name = "" },
			wantField: "name",
			wantMsg:   "This field is required.",
		},
		{
			name:      "名前が短すぎる",
			mutate:    func(in *Input) { in.Name = "A" },
			wantField: "name",
			wantMsg:   "Too short",
		},
		{
			name:      "ユーザー名が空",
			mutate:    func(in *Input) { in.Username = "" },
			wantField: "username",
			wantMsg:   "This field is required.",
		},
		{
			name:      "メールアドレスが空",
			mutate:    func(in *Input) { in.Email = "" },
			wantField: "email",
			wantMsg:   "This field is required.",
		},
		{
			name:      "メールアドレスの形式が不正",
			mutate:    func(in *Input) { in.Email = "ana-at-example.com" },
			wantField: "email",
			wantMsg:   "Invalid email address.",
		},
		{
			name:      "パスワードが短すぎる",
			mutate:    func(in *Input) { in.Password = "short" },
			wantField: "password",
			wantMsg:   "Password must be at least 8 characters.",
		},
		{
			name:      "名前が長すぎる",
			mutate:    func(in *Input) { in.Name = strings.Repeat("a", 129) },
			wantField: "name",
			wantMsg:   "Too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			err := s.Validate(in)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if got := verr.Fields[tt.wantField]; got != tt.wantMsg {
				t.Errorf("Fields[%q] = %q, want %q", tt.wantField, got, tt.wantMsg)
			}
			if len(verr.Fields) != 1 {
				t.Errorf("expected exactly 1 invalid field, got %v", verr.Fields)
			}
		})
	}
}

func TestSchema_Validate_AllEmpty_ReportsEveryField(t *testing.T) {
	s := NewSchema(nil)

	err := s.Validate(Input{})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, field := range []string{"name", "username", "email", "password"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing message for %q", field)
		}
	}
	if !strings.Contains(verr.Error(), "email, name, password, username") {
		t.Errorf("Error() = %q, want sorted field list", verr.Error())
	}
}

func TestSchema_Normalize(t *testing.T) {
	s := NewSchema(nil)

	got := s.Normalize(Input{
		Name:     "  <b>Ana</b> Lee ",
		Username: " ana ",
		Email:    "  Ana@Example.COM ",
		Password: " Secret123 ",
	})

	if got.Name != "Ana Lee" {
		t.Errorf("Name = %q, want %q", got.Name, "Ana Lee")
	}
	if got.Username != "ana" {
		t.Errorf("Username = %q, want %q", got.Username, "ana")
	}
	if got.Email != "ana@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "ana@example.com")
	}
	// パスワードは空白も含めてそのまま
	if got.Password != " Secret123 " {
		t.Errorf("Password = %q, want unchanged", got.Password)
	}
}

func TestSchema_Normalize_MarkupOnlyNameFailsValidation(t *testing.T) {
	s := NewSchema(nil)

	in := validInput()
	in.Name = "<script>alert(1)</script>"
	in = s.Normalize(in)

	var verr *ValidationError
	if !errors.As(s.Validate(in), &verr) {
		t.Fatal("expected validation error for markup-only name")
	}
	if _, ok := verr.Fields["name"]; !ok {
		t.Errorf("expected name field error, got %v", verr.Fields)
	}
}

func TestSchema_ValidateSignIn(t *testing.T) {
	s := NewSchema(nil)

	in, err := s.ValidateSignIn(SignInInput{Email: "  Ana@Example.COM ", Password: "Secret123"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if in.Email != "ana@example.com" {
		t.Errorf("Email = %q, want %q", in.Email, "ana@example.com")
	}

	_, err = s.ValidateSignIn(SignInInput{Email: "not-an-email"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Fields["email"] != "Invalid email address." {
		t.Errorf("email message = %q", verr.Fields["email"])
	}
	if verr.Fields["password"] != "This field is required." {
		t.Errorf("password message = %q", verr.Fields["password"])
	}
}
