// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the calling principal. Every record route is owner
// scoped, so the principal must be known before any handler runs:
//
//   - Authorization: Bearer <JWT> signed with HS256. The owner id is read from
//     the "id" claim, falling back to the registered "sub" claim.
//   - X-User-ID header, accepted only when AuthOptions.AllowHeader is set
//     (local development and tests).
//
// Anything else is answered with 401 and the standard error envelope.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// UserIDKey is the Gin context key holding the authenticated owner id.
const UserIDKey = "userID"

// HeaderUserID is the development identity header.
const HeaderUserID = "X-User-ID"

// MaxUserIDLength bounds a principal id; owner columns are varchar(64).
const MaxUserIDLength = 64

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Secret is the HS256 key. Empty disables bearer tokens.
	Secret []byte
	// AllowHeader trusts X-User-ID when no bearer token is sent.
	AllowHeader bool
}

// Claims is the token payload. ID mirrors the "id" claim issued by the
// account service; Subject is used when it is absent.
type Claims struct {
	ID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

var errNoPrincipal = errors.New("token carries no user id")

// ParseToken verifies an HS256 token and returns the owner id it names.
func ParseToken(secret []byte, raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if id := strings.TrimSpace(claims.ID); id != "" {
		return id, nil
	}
	if sub := strings.TrimSpace(claims.Subject); sub != "" {
		return sub, nil
	}
	return "", errNoPrincipal
}

// Authenticate stores the principal under UserIDKey or aborts with 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := c.GetHeader("Authorization"); h != "" {
			raw, found := strings.CutPrefix(h, "Bearer ")
			if !found || len(opts.Secret) == 0 {
				unauthorized(c, "unsupported authorization")
				return
			}
			uid, err := ParseToken(opts.Secret, strings.TrimSpace(raw))
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("bearer token rejected")
				unauthorized(c, "invalid token")
				return
			}
			if utf8.RuneCountInString(uid) > MaxUserIDLength {
				unauthorized(c, "user id too long")
				return
			}
			bindUser(c, uid)
			c.Next()
			return
		}

		if opts.AllowHeader {
			if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
				if utf8.RuneCountInString(uid) > MaxUserIDLength {
					unauthorized(c, "user id too long")
					return
				}
				bindUser(c, uid)
				c.Next()
				return
			}
		}

		unauthorized(c, "authentication required")
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       "unauthorized",
		"message":    msg,
	})
}
