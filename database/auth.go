package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"citypulse/models"

	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService handles user identity and session tokens.
type AuthService struct {
	db         *sql.DB
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthService creates a new authentication service instance.
func NewAuthService(db *sql.DB, jwtSecret string, accessTTL, refreshTTL time.Duration) *AuthService {
	return &AuthService{
		db:         db,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// UpsertUserByPhone returns the stable user for a verified phone number,
// creating it on first login. The same phone always maps to the same id.
func (s *AuthService) UpsertUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, phone, created_at FROM users WHERE phone = ?", phone).
		Scan(&user.ID, &user.Phone, &user.CreatedAt)
	if err == nil {
		return &user, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query user by phone: %w", err)
	}

	user = models.User{
		ID:        uuid.New().String(),
		Phone:     phone,
		CreatedAt: time.Now(),
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, phone) VALUES (?, ?)", user.ID, user.Phone); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	log.Infof("Created user %s for phone %s", user.ID, user.Phone)
	return &user, nil
}

// IssueTokens generates an access/refresh token pair for an authenticated
// user. The refresh token is stored hashed so a database leak does not leak
// usable sessions.
func (s *AuthService) IssueTokens(ctx context.Context, userID, phone, role string) (*models.TokenResponse, error) {
	now := time.Now()
	accessExpiry := now.Add(s.accessTTL)
	refreshExpiry := now.Add(s.refreshTTL)

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"phone":   phone,
		"role":    role,
		"type":    "access",
		"exp":     accessExpiry.Unix(),
		"iat":     now.Unix(),
	})
	accessTokenString, err := accessToken.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"phone":   phone,
		"role":    role,
		"type":    "refresh",
		"exp":     refreshExpiry.Unix(),
		"iat":     now.Unix(),
	})
	refreshTokenString, err := refreshToken.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_tokens (user_id, token_hash, expires_at) VALUES (?, ?, ?)",
		userID, hashToken(refreshTokenString), refreshExpiry); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &models.TokenResponse{
		Token:        accessTokenString,
		RefreshToken: refreshTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		UserID:       userID,
		Phone:        phone,
		Role:         role,
	}, nil
}

// ValidateToken validates an access token and returns the session claims.
func (s *AuthService) ValidateToken(tokenString string) (userID, phone, role string, err error) {
	claims, err := s.parseClaims(tokenString, "access")
	if err != nil {
		return "", "", "", err
	}
	return claims.userID, claims.phone, claims.role, nil
}

// RefreshTokens exchanges a stored refresh token for a fresh token pair. The
// old refresh token is invalidated: each refresh token is single-use.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	claims, err := s.parseClaims(refreshToken, "refresh")
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM auth_tokens WHERE user_id = ? AND token_hash = ? AND expires_at > NOW()",
		claims.userID, hashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, errors.New("refresh token not recognized")
	}

	return s.IssueTokens(ctx, claims.userID, claims.phone, claims.role)
}

// PurgeExpiredTokens drops refresh tokens past their expiry.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_tokens WHERE expires_at <= NOW()"); err != nil {
		return fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return nil
}

type sessionClaims struct {
	userID string
	phone  string
	role   string
}

func (s *AuthService) parseClaims(tokenString, wantType string) (*sessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != wantType {
		return nil, fmt.Errorf("expected %s token", wantType)
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, errors.New("invalid user id in token")
	}
	phone, _ := claims["phone"].(string)
	role, _ := claims["role"].(string)

	return &sessionClaims{userID: userID, phone: phone, role: role}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
