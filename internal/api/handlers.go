// Package api implements the REST surface: document, collaborator,
// comment and snapshot-history management around the realtime hub.
package api

import (
	"net/http"

	"github.com/collabdocs/hub/internal/access"
	"github.com/collabdocs/hub/internal/auth"
	"github.com/collabdocs/hub/internal/db"
	"github.com/collabdocs/hub/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler holds the dependencies for API handlers.
type Handler struct {
	db   *db.DB
	gate *auth.Gate
	ctrl *access.Control
}

// NewHandler creates a new API handler.
func NewHandler(database *db.DB, gate *auth.Gate, ctrl *access.Control) *Handler {
	return &Handler{db: database, gate: gate, ctrl: ctrl}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	// Dev-mode credential issuance: resolves an email to a user record and
	// mints a bearer token. Password verification and account creation are
	// external collaborators, out of core scope.
	r.POST("/api/auth/login", h.DevLogin)
	r.GET("/api/auth/me", h.gate.Middleware(), h.GetCurrentUser)

	docs := r.Group("/api/docs")
	docs.Use(h.gate.Middleware())
	{
		docs.GET("", h.ListDocuments)
		docs.POST("", h.CreateDocument)
		docs.GET("/:id", h.ctrl.RequireRole(models.RoleViewer), h.GetDocument)
		docs.PUT("/:id", h.ctrl.RequireRole(models.RoleEditor), h.UpdateDocument)
		docs.DELETE("/:id", h.ctrl.RequireRole(models.RoleOwner), h.DeleteDocument)

		docs.GET("/:id/collaborators", h.ctrl.RequireRole(models.RoleViewer), h.ListCollaborators)
		docs.PUT("/:id/collaborators", h.ctrl.RequireRole(models.RoleOwner), h.SetCollaborator)
		docs.DELETE("/:id/collaborators/:userId", h.ctrl.RequireRole(models.RoleOwner), h.RemoveCollaborator)
		docs.GET("/:id/my-role", h.ctrl.RequireRole(models.RoleViewer), h.GetMyRole)

		docs.GET("/:id/comments", h.ctrl.RequireRole(models.RoleViewer), h.ListComments)
		docs.POST("/:id/comments", h.ctrl.RequireRole(models.RoleCommenter), h.CreateComment)

		docs.GET("/:id/snapshots", h.ctrl.RequireRole(models.RoleViewer), h.ListSnapshots)
		docs.GET("/:id/snapshots/latest", h.ctrl.RequireRole(models.RoleViewer), h.GetLatestSnapshot)
	}

	comments := r.Group("/api/comments")
	comments.Use(h.gate.Middleware())
	{
		comments.PUT("/:id", h.UpdateComment)
		comments.DELETE("/:id", h.DeleteComment)
	}
}

// HealthCheck returns the health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DevLogin handles login for local development.
func (h *Handler) DevLogin(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.db.FindUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	token, err := h.gate.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{Token: token, User: user})
}

// GetCurrentUser returns the current authenticated user.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user := auth.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListDocuments returns all documents accessible by the user.
func (h *Handler) ListDocuments(c *gin.Context) {
	user := auth.UserFromContext(c)
	docs, err := h.db.ListDocuments(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

// CreateDocument creates a new document.
func (h *Handler) CreateDocument(c *gin.Context) {
	user := auth.UserFromContext(c)

	var req models.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.db.CreateDocument(c.Request.Context(), req.Title, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create document"})
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// GetDocument returns a single document.
func (h *Handler) GetDocument(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	doc, err := h.db.GetDocument(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get document"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// UpdateDocument updates a document.
func (h *Handler) UpdateDocument(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	var req models.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.db.UpdateDocument(c.Request.Context(), docID, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// DeleteDocument deletes a document.
func (h *Handler) DeleteDocument(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	if err := h.db.DeleteDocument(c.Request.Context(), docID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

// ListCollaborators returns all collaborators for a document.
func (h *Handler) ListCollaborators(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	collabs, err := h.db.ListCollaborators(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list collaborators"})
		return
	}
	if collabs == nil {
		collabs = []*models.Collaborator{}
	}
	c.JSON(http.StatusOK, collabs)
}

// SetCollaborator sets a user's role on a document.
func (h *Handler) SetCollaborator(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	var req models.SetCollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.db.SetCollaborator(c.Request.Context(), docID, userID, req.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set collaborator role"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "role set"})
}

// RemoveCollaborator removes a user's collaborator row for a document.
func (h *Handler) RemoveCollaborator(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.db.RemoveCollaborator(c.Request.Context(), docID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove collaborator"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "collaborator removed"})
}

// GetMyRole returns the current user's resolved role on a document.
// RequireRole already ran ResolveRole to reach this handler and stashed
// the result on the context.
func (h *Handler) GetMyRole(c *gin.Context) {
	role, _ := c.Get("role")
	c.JSON(http.StatusOK, gin.H{"role": role})
}

// ListComments returns all top-level comments for a document.
func (h *Handler) ListComments(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	comments, err := h.db.ListComments(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list comments"})
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

// CreateComment creates a new comment.
func (h *Handler) CreateComment(c *gin.Context) {
	user := auth.UserFromContext(c)
	docID, _ := uuid.Parse(c.Param("id"))

	var req models.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var parentID *uuid.UUID
	if req.ParentID != nil {
		id, err := uuid.Parse(*req.ParentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent id"})
			return
		}
		parentID = &id
	}

	comment, err := h.db.CreateComment(c.Request.Context(), docID, user.ID, req.Content, req.Selection, parentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create comment"})
		return
	}

	c.JSON(http.StatusCreated, comment)
}

// UpdateComment updates a comment. Only the author may edit it.
func (h *Handler) UpdateComment(c *gin.Context) {
	user := auth.UserFromContext(c)
	commentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid comment id"})
		return
	}

	existing, err := h.db.GetComment(c.Request.Context(), commentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return
	}
	if existing.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot edit another user's comment"})
		return
	}

	var req models.UpdateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.db.UpdateComment(c.Request.Context(), commentID, req.Content, req.Resolved)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update comment"})
		return
	}

	c.JSON(http.StatusOK, comment)
}

// DeleteComment deletes a comment. Only the author may delete it.
func (h *Handler) DeleteComment(c *gin.Context) {
	user := auth.UserFromContext(c)
	commentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid comment id"})
		return
	}

	existing, err := h.db.GetComment(c.Request.Context(), commentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return
	}
	if existing.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot delete another user's comment"})
		return
	}

	if err := h.db.DeleteComment(c.Request.Context(), commentID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete comment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "comment deleted"})
}

// ListSnapshots returns the version history for a document.
func (h *Handler) ListSnapshots(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	snapshots, err := h.db.ListSnapshots(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list snapshots"})
		return
	}
	if snapshots == nil {
		snapshots = []*models.DocSnapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

// GetLatestSnapshot returns the most recent snapshot blob for a document.
func (h *Handler) GetLatestSnapshot(c *gin.Context) {
	docID, _ := uuid.Parse(c.Param("id"))

	snapshot, err := h.db.GetLatestSnapshot(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get snapshot"})
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{"snapshot": nil})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
