package mw

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"seat-exchange-backend/internal/parse"
)

// Headers set by the identity provider in front of the service. The hash is
// already opaque; raw student IDs never reach this process.
const (
	HeaderStudentHash   = "X-Student-Hash"
	HeaderRole          = "X-Role"
	HeaderCreditDeficit = "X-Credit-Deficit"
)

// Roles understood by the role guard.
const (
	RoleStudent   = "student"
	RoleRegistrar = "registrar"
	RoleAdmin     = "admin"
)

const identityKey = "identity"

// Identity is the caller as vouched for by the identity provider.
type Identity struct {
	StudentHash   string
	Role          string
	CreditDeficit float64
}

// Identify reads the identity headers into the request context. Requests
// without headers pass through anonymous; malformed ones are rejected.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Identity{Role: strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderRole)))}

		if raw := c.GetHeader(HeaderStudentHash); raw != "" {
			hash, err := parse.StudentHash(raw)
			if err != nil {
				abort(c, http.StatusBadRequest, "validation", err.Error())
				return
			}
			id.StudentHash = hash
			if id.Role == "" {
				id.Role = RoleStudent
			}
		}

		if raw := c.GetHeader(HeaderCreditDeficit); raw != "" {
			d, err := strconv.ParseFloat(raw, 64)
			if err != nil || d < 0 || d > 1 {
				abort(c, http.StatusBadRequest, "validation", "credit deficit must be a number in [0,1]")
				return
			}
			id.CreditDeficit = d
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Identify.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// RequireStudent rejects callers without a student hash.
func RequireStudent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := IdentityFrom(c); !ok || id.StudentHash == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated", "a student identity is required")
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok || id.Role == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated", "a role is required")
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "forbidden", "role "+id.Role+" may not call this endpoint")
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "error": code, "message": msg})
}
