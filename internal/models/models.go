// Package models holds the wire and storage types shared across the
// collaboration hub and the REST API.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity produced by the Auth Gate once a credential has
// been validated.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never expose in JSON
	Name         string    `json:"name" db:"name"`
	AvatarURL    string    `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Document is the external document record: exactly one collaborator
// carries RoleOwner and its UserID equals OwnerID.
type Document struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Joined fields
	Owner      *User  `json:"owner,omitempty"`
	Permission string `json:"permission,omitempty"`
}

// Collaboration roles. The hub's access control only distinguishes
// owner/editor (may mutate the replica) from everything else (read-only);
// RoleCommenter is a REST-only supplemental role for annotations.
const (
	RoleOwner     = "owner"
	RoleEditor    = "editor"
	RoleCommenter = "commenter"
	RoleViewer    = "viewer"
)

// Collaborator represents a user's access to a document.
type Collaborator struct {
	DocID     uuid.UUID `json:"doc_id" db:"doc_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Joined fields
	User *User `json:"user,omitempty"`
}

// CanEdit returns true if the role allows mutating the CRDT replica.
func (c *Collaborator) CanEdit() bool {
	return CanEdit(c.Role)
}

// CanComment returns true if the role allows posting comments.
func (c *Collaborator) CanComment() bool {
	return c.Role == RoleOwner || c.Role == RoleEditor || c.Role == RoleCommenter
}

// CanEdit reports whether a bare role string may mutate the CRDT replica
// (spec §4.2's capability matrix).
func CanEdit(role string) bool {
	return role == RoleOwner || role == RoleEditor
}

// DocSnapshot represents a version snapshot of a document.
type DocSnapshot struct {
	DocID     uuid.UUID `json:"doc_id" db:"doc_id"`
	Version   int       `json:"version" db:"version"`
	Snapshot  []byte    `json:"snapshot" db:"snapshot"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Selection represents a text selection in the document.
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Comment represents a threaded annotation on a document. Comments never
// touch the CRDT replica or the realtime fan-out path (spec §9).
type Comment struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	DocID     uuid.UUID  `json:"doc_id" db:"doc_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	Content   string     `json:"content" db:"content"`
	Selection *Selection `json:"selection,omitempty" db:"selection"`
	Resolved  bool       `json:"resolved" db:"resolved"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`

	// Joined fields
	User *User `json:"user,omitempty"`
}

// CreateDocumentRequest represents requests to create a document.
type CreateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateDocumentRequest represents requests to update a document.
type UpdateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

// SetCollaboratorRequest represents a request to set a document collaborator's role.
type SetCollaboratorRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=owner editor commenter viewer"`
}

// CreateCommentRequest represents a request to create a comment.
type CreateCommentRequest struct {
	Content   string     `json:"content" binding:"required"`
	Selection *Selection `json:"selection,omitempty"`
	ParentID  *string    `json:"parent_id,omitempty"`
}

// UpdateCommentRequest represents a request to update a comment.
type UpdateCommentRequest struct {
	Content  *string `json:"content,omitempty"`
	Resolved *bool   `json:"resolved,omitempty"`
}

// Subscriber is the identity tuple the Room Registry tracks for a session
// joined to a document (spec §3 "Room", §4.5).
type Subscriber struct {
	SessionID   string `json:"-"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// Hub wire message types (spec §4.6).
const (
	MsgJoinDocument    = "join-document"
	MsgRejoinDocument  = "rejoin-document"
	MsgLeaveDocument   = "leave-document"
	MsgYjsUpdate       = "yjs-update"
	MsgYjsAwareness    = "yjs-awareness"
	MsgYjsSync         = "yjs-sync"
	MsgUserJoined      = "user-joined"
	MsgUserLeft        = "user-left"
	MsgPermissionError = "permission-denied"
	MsgConnected       = "connected"
)

// LoginRequest represents a dev-mode login request. Real password
// verification and account storage are out of core scope (spec §1); this
// only resolves an email to a user record and issues a credential.
type LoginRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
