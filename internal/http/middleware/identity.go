// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the viewer identity. There is no authentication: the
// browser client sends its local profile id and display name as headers and
// the backend trusts them, which matches the single-profile prototype.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/sysutil"
)

const (
	// HeaderUserID carries the viewer's profile id.
	HeaderUserID = "X-User-ID"
	// HeaderUserName carries the viewer's display name.
	HeaderUserName = "X-User-Name"
	// DefaultUserID is used when the client sends no id.
	DefaultUserID = "demo-user"

	ctxKeyUserID   = "userID"
	ctxKeyUserName = "userName"
)

// Identity stores the viewer id and name from the request headers in the Gin
// context. An absent id falls back to DefaultUserID; an absent name stays
// empty and is defaulted by the service layer.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := sysutil.FirstNonEmpty(strings.TrimSpace(c.GetHeader(HeaderUserID)), DefaultUserID)
		c.Set(ctxKeyUserID, id)
		c.Set(ctxKeyUserName, strings.TrimSpace(c.GetHeader(HeaderUserName)))
		c.Next()
	}
}

// UserID returns the viewer id set by Identity, or DefaultUserID.
func UserID(c *gin.Context) string {
	if s := c.GetString(ctxKeyUserID); s != "" {
		return s
	}
	return DefaultUserID
}

// UserName returns the viewer display name set by Identity ("" when unknown).
func UserName(c *gin.Context) string {
	return c.GetString(ctxKeyUserName)
}
