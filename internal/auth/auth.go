package auth

import (
	"context"
	"crypto/rsa"
	stderrors "errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	errors "github.com/sokocart/sokocart/internal"
)

// Tokens are issued by an external identity service; this package only
// verifies them. PermissionStaff grants access to fulfilment and analytics
// endpoints.
const (
	PermissionStaff = "staff"
	PermissionAdmin = "admin"
)

type User struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
}

func (u *User) HasPermission(permission string) bool {
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (u *User) IsStaff() bool {
	return u.HasPermission(PermissionStaff) || u.HasPermission(PermissionAdmin)
}

type Claims struct {
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

type userCtxKey struct{}

func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userCtxKey{}).(*User)
	return user, ok
}

// Verifier validates RS256 bearer tokens against the issuer's public key.
type Verifier struct {
	publicKey *rsa.PublicKey
}

func NewVerifier(publicKeyPEM string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}
	return &Verifier{publicKey: key}, nil
}

// NewVerifierFromKey wraps an already parsed public key.
func NewVerifierFromKey(key *rsa.PublicKey) *Verifier {
	return &Verifier{publicKey: key}
}

func (v *Verifier) Verify(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.ErrInvalidToken
		}
		return v.publicKey, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.ErrTokenExpired
		}
		return nil, errors.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errors.ErrInvalidToken
	}

	return &User{
		ID:          userID,
		Email:       claims.Email,
		Permissions: claims.Permissions,
	}, nil
}
