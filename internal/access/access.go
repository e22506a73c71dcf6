// Package access implements Document Access Control (spec §4.2): resolving
// a user's role on a document and answering capability questions for the
// hub dispatcher and the REST surface.
package access

import (
	"context"
	"errors"
	"net/http"

	"github.com/collabdocs/hub/internal/auth"
	"github.com/collabdocs/hub/internal/db"
	"github.com/collabdocs/hub/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrNotFound is returned uniformly for "document does not exist" and
// "user is not a collaborator" — the two are indistinguishable to the
// caller by design (spec §4.2: "this prevents enumeration").
var ErrNotFound = errors.New("access: not found")

// Control is Document Access Control (C2).
type Control struct {
	store *db.DB
}

// NewControl constructs a Document Access Control bound to the metadata store.
func NewControl(store *db.DB) *Control {
	return &Control{store: store}
}

// ResolveRole answers "what role, if any, does user U have on document D?"
// (spec §4.2). It is invoked on join, rejoin, and on every update, to
// defend against role changes mid-session.
func (c *Control) ResolveRole(ctx context.Context, userID, documentID uuid.UUID) (string, error) {
	doc, err := c.store.FindDocumentForAccess(ctx, documentID, userID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrNotFound
	}
	return doc.Permission, nil
}

// CanRead reports whether role permits read access (spec §4.2's matrix:
// every resolved role may read).
func CanRead(role string) bool {
	return role == models.RoleOwner || role == models.RoleEditor ||
		role == models.RoleCommenter || role == models.RoleViewer
}

// CanAwareness reports whether role permits sending awareness updates.
// Per spec §9 open question, the source allows viewers to broadcast
// awareness — this spec preserves that: every role with read access may
// also emit awareness.
func CanAwareness(role string) bool {
	return CanRead(role)
}

// CanEdit reports whether role permits mutating the CRDT replica
// (spec §4.2's matrix: owner and editor only).
func CanEdit(role string) bool {
	return models.CanEdit(role)
}

var roleRank = map[string]int{
	models.RoleViewer:    1,
	models.RoleCommenter: 2,
	models.RoleEditor:    3,
	models.RoleOwner:     4,
}

// RequireRole is a gin middleware factory for the REST surface: it
// resolves the caller's role on the document named by the :id path
// parameter and aborts with 403 if it ranks below minRole.
func (c *Control) RequireRole(minRole string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user := auth.UserFromContext(ctx)
		if user == nil {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			ctx.Abort()
			return
		}

		docID, err := uuid.Parse(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			ctx.Abort()
			return
		}

		role, err := c.ResolveRole(ctx.Request.Context(), user.ID, docID)
		if errors.Is(err, ErrNotFound) {
			ctx.JSON(http.StatusForbidden, gin.H{"error": "no access to this document"})
			ctx.Abort()
			return
		}
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			ctx.Abort()
			return
		}

		if roleRank[role] < roleRank[minRole] {
			ctx.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			ctx.Abort()
			return
		}

		ctx.Set("role", role)
		ctx.Next()
	}
}
