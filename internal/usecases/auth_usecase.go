package usecases

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"talk2chat/internal/entities"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identify the caller of the agent and realtime APIs. Tokens are
// minted by the hosted auth backend with the shared secret; this service
// only mints service tokens for internal callers.
type Claims struct {
	UserID   string  `json:"user_id"`
	Role     string  `json:"role"`
	TenantID *string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

type AuthUsecase struct {
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthUsecase(secret string) *AuthUsecase {
	return &AuthUsecase{jwtSecret: []byte(secret), now: time.Now}
}

// Verify parses an HS256 token and returns its claims.
func (uc *AuthUsecase) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return uc.jwtSecret, nil
	}, jwt.WithTimeFunc(uc.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs claims valid for ttl.
func (uc *AuthUsecase) Issue(userID, role string, tenantID *string, ttl time.Duration) (string, error) {
	now := uc.now()
	claims := Claims{
		UserID:   userID,
		Role:     role,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueService mints a token for internal callers of /internal/dispatch.
func (uc *AuthUsecase) IssueService(name string, ttl time.Duration) (string, error) {
	return uc.Issue(name, entities.RoleService, nil, ttl)
}

// CanAccess reports whether the caller may act on a session of tenantID.
// Tenant-bound callers see only their tenant; unbound super admins and
// service callers see everything.
func (c *Claims) CanAccess(tenantID *string) bool {
	if c.Role == entities.RoleService || (c.Role == entities.RoleSuperAdmin && c.TenantID == nil) {
		return true
	}
	return entities.SameTenant(c.TenantID, tenantID)
}
