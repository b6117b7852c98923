package doctors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
)

const defaultTokenTTL = 24 * time.Hour

// Authenticator exchanges doctor credentials for an HS256 bearer token.
type Authenticator struct {
	repo   Repository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator builds an authenticator. A zero ttl means 24h.
func NewAuthenticator(repo Repository, secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Authenticator{repo: repo, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Session is returned on successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Doctor    *Doctor   `json:"doctor"`
}

// Login verifies the password against the stored bcrypt hash. Unknown emails
// and wrong passwords fail the same way.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*Session, error) {
	if len(a.secret) == 0 {
		return nil, apperrors.New(apperrors.KindUnauthorized, "doctors.login", "doctor login disabled")
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "doctors.login", "email and password are required")
	}
	doctor, err := a.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.New(apperrors.KindUnauthorized, "doctors.login", "invalid credentials")
		}
		return nil, err
	}
	if doctor.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(doctor.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.New(apperrors.KindUnauthorized, "doctors.login", "invalid credentials")
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   doctor.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("doctors: sign token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expires, Doctor: doctor}, nil
}

// ParseToken validates a token issued by Login and returns the doctor id.
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", apperrors.New(apperrors.KindUnauthorized, "doctors.parse_token", "invalid token")
	}
	return claims.Subject, nil
}

// HashPassword returns a bcrypt hash suitable for the password_hash column.
func HashPassword(password string) (string, error) {
	raw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("doctors: hash password: %w", err)
	}
	return string(raw), nil
}
