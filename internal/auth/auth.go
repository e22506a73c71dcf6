// Package auth implements the Auth Gate (spec §4.1): validating a bearer
// credential at socket handshake and at REST requests, and binding a
// verified identity to the caller.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/collabdocs/hub/internal/db"
	"github.com/collabdocs/hub/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors surfaced by Authenticate, matching the three handshake
// failure classes of spec §4.1 / §7.
var (
	ErrAuthMissing     = errors.New("auth: missing credential")
	ErrAuthInvalid     = errors.New("auth: invalid credential")
	ErrAuthUnknownUser = errors.New("auth: unknown user")
)

// ContextKey namespaces values stored on a gin.Context.
type ContextKey string

// UserContextKey is the key under which Middleware stores the authenticated user.
const UserContextKey ContextKey = "user"

// Claims are the fields carried by the signed bearer credential (spec §6:
// "a signed credential with fields {id, exp}", expanded with email/name so
// a socket handshake need not round-trip to the metadata store twice).
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Gate is the Auth Gate (C1). It signs and validates bearer credentials and
// resolves a validated credential to a verified identity via the metadata
// store.
type Gate struct {
	secret []byte
	store  *db.DB
}

// NewGate constructs an Auth Gate bound to a signing secret and the
// metadata store used to resolve user records.
func NewGate(secret string, store *db.DB) *Gate {
	return &Gate{secret: []byte(secret), store: store}
}

// GenerateToken issues a signed bearer credential for a user. Credential
// issuance proper (password verification, account creation) is an external
// collaborator per spec §1; this only mints the token once a caller has
// already resolved a User record some other way.
func (g *Gate) GenerateToken(user *models.User) (string, error) {
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "collabdocs-hub",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// ValidateToken checks the signature and expiry of a bearer credential and
// returns its claims.
func (g *Gate) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticate implements spec §4.1's `authenticate(handshake) → identity |
// reject`. bearer is the raw credential string extracted from the
// handshake envelope (a query parameter on the WebSocket upgrade request,
// or an Authorization header on a REST request). The three failure
// classes are distinguished by sentinel error so a caller can close the
// socket with the matching rejection reason before allocating any
// dispatcher state; Authenticate itself performs no I/O beyond the read of
// user storage.
func (g *Gate) Authenticate(ctx context.Context, bearer string) (*models.User, error) {
	if bearer == "" {
		return nil, ErrAuthMissing
	}

	claims, err := g.ValidateToken(bearer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrAuthInvalid)
	}

	user, err := g.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: resolving user: %w", err)
	}
	if user == nil {
		return nil, ErrAuthUnknownUser
	}

	return user, nil
}

// Middleware validates a bearer token from the Authorization header and
// attaches the resolved user to the gin context, for the REST surface.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		user, err := g.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(string(UserContextKey), user)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user attached by Middleware.
func UserFromContext(c *gin.Context) *models.User {
	v, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil
	}
	return v.(*models.User)
}
