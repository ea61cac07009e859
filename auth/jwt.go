package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"huddle_back_end_go/apperrors"
)

// Identity is the verified result of a bearer token: a stable user id
// scoped to one tenant.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
}

type Claims struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier turns bearer tokens into identities. It is the only component
// that knows the signing secret.
type Verifier struct {
	Secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: []byte(secret)}
}

// GenerateToken issues a signed token for the given identity.
func (v *Verifier) GenerateToken(identity Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   identity.UserID,
		TenantID: identity.TenantID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.Secret)
}

// VerifyToken validates a token and returns the identity it carries. Any
// failure is an auth error; the session layer treats it as fatal.
func (v *Verifier) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, apperrors.Wrap(apperrors.KindAuth, "Invalid authentication credentials", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" || claims.TenantID == "" {
		return Identity{}, apperrors.New(apperrors.KindAuth, "Invalid authentication credentials")
	}

	return Identity{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Username: claims.Username,
	}, nil
}
