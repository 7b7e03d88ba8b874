package middleware

import (
	"github.com/gin-gonic/gin"

	"larder/internal/core/apperror"
	appctx "larder/internal/core/context"
	"larder/internal/core/id"
)

const (
	// HeaderAccountID carries the owning account of every row a request touches.
	HeaderAccountID = "X-Account-ID"
	// HeaderActorID optionally names the user acting for the account.
	HeaderActorID = "X-Actor-ID"
)

const keyOwnerID = "owner_id"

// Account resolves the owner from X-Account-ID. Authentication happens
// upstream; this only scopes the request.
func Account() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderAccountID)
		if raw == "" {
			_ = c.Error(apperror.NewValidation("account is required").WithDetail("header", HeaderAccountID))
			c.Abort()
			return
		}
		owner, err := id.Parse(raw)
		if err != nil || id.IsNil(owner) {
			_ = c.Error(apperror.NewValidation("invalid account id").
				WithDetail("header", HeaderAccountID).
				WithDetail("value", raw))
			c.Abort()
			return
		}

		ctx := appctx.WithAccount(c.Request.Context(), &appctx.AccountContext{
			AccountID: owner.String(),
			ActorID:   c.GetHeader(HeaderActorID),
			Source:    "http",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set(keyOwnerID, owner)
		c.Next()
	}
}

// OwnerID returns the owner resolved by Account, or the nil id.
func OwnerID(c *gin.Context) id.ID {
	if v, ok := c.Get(keyOwnerID); ok {
		if owner, ok := v.(id.ID); ok {
			return owner
		}
	}
	return id.Nil()
}
