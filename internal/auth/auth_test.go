package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prepmate/internal/config"
	"prepmate/internal/models"
	"prepmate/internal/testhelpers"

	"github.com/gin-gonic/gin"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	token, err := GenerateAccessToken(42, "a@example.com", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID uint
		wantErr bool
	}{
		{"valid token", token, secret, 42, false},
		{"wrong secret", token, "wrong-secret", 0, true},
		{"invalid token", "invalid.token.here", secret, 0, true},
		{"empty token", "", secret, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && (claims.UserID != tt.wantUID || claims.Email != "a@example.com") {
				t.Errorf("ParseAccessToken() claims = %+v", claims)
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	token, err := GenerateAccessToken(1, "", "test-secret", -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	claims, err := ParseAccessToken(token, "test-secret")
	if err == nil || claims != nil {
		t.Errorf("ParseAccessToken() = %v, %v; want error for expired token", claims, err)
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	token1, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	token2, _ := GenerateRefreshToken()
	if token1 == token2 {
		t.Error("GenerateRefreshToken() should generate unique tokens")
	}
	if len(token1) != 64 {
		t.Errorf("GenerateRefreshToken() token length = %d, want 64", len(token1))
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	gdb := testhelpers.SetupTestDB(t)
	if err := SaveRefreshToken(gdb, 7, "tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if err := SaveRefreshToken(gdb, 7, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	rec, err := ConsumeRefreshToken(gdb, "tok")
	if err != nil || rec.UserID != 7 || rec.RevokedAt == nil {
		t.Fatalf("ConsumeRefreshToken() = %v, %v", rec, err)
	}
	if _, err := ConsumeRefreshToken(gdb, "tok"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Errorf("ConsumeRefreshToken() reuse error = %v, want ErrRefreshTokenInvalid", err)
	}
	if _, err := ConsumeRefreshToken(gdb, "old"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Errorf("ConsumeRefreshToken() expired error = %v, want ErrRefreshTokenInvalid", err)
	}
	if _, err := ConsumeRefreshToken(gdb, "missing"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Errorf("ConsumeRefreshToken() missing error = %v, want ErrRefreshTokenInvalid", err)
	}
}

func TestRevokeUserTokens(t *testing.T) {
	gdb := testhelpers.SetupTestDB(t)
	for _, tok := range []string{"a", "b"} {
		if err := SaveRefreshToken(gdb, 3, tok, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SaveRefreshToken() error = %v", err)
		}
	}
	if err := SaveRefreshToken(gdb, 4, "other", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if err := RevokeUserTokens(gdb, 3); err != nil {
		t.Fatalf("RevokeUserTokens() error = %v", err)
	}
	for _, tok := range []string{"a", "b"} {
		if _, err := ConsumeRefreshToken(gdb, tok); err == nil {
			t.Errorf("token %q should be revoked", tok)
		}
	}
	if _, err := ConsumeRefreshToken(gdb, "other"); err != nil {
		t.Errorf("other user's token revoked: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BearerToken(tt.in); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthMiddlewareAndStatusGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gdb := testhelpers.SetupTestDB(t)
	cfg := config.Config{JWTSecret: "secret"}

	active := models.User{Email: "active@example.com", PasswordHash: "x", Coins: 100}
	disabled := models.User{Email: "disabled@example.com", PasswordHash: "x", Coins: 100, Disabled: true}
	if err := gdb.Create(&active).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := gdb.Create(&disabled).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := gin.New()
	r.GET("/me", AuthMiddleware(cfg, gdb), RequireActive(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetUserID(c)})
	})

	tokenFor := func(u models.User) string {
		tok, err := GenerateAccessToken(u.ID, u.Email, cfg.JWTSecret, 5)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		return tok
	}

	tests := []struct {
		name   string
		authz  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"active user", "Bearer " + tokenFor(active), http.StatusOK},
		{"disabled user", "Bearer " + tokenFor(disabled), http.StatusForbidden},
		{"unknown user", "Bearer " + tokenFor(models.User{ID: 999}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}
