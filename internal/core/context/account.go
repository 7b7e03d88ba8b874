// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// AccountContext identifies the account that owns every row touched by a request.
// All ledger rows are scoped to exactly one account (row-level multi-tenancy).
type AccountContext struct {
	AccountID string
	ActorID   string // user or integration acting on behalf of the account
	Source    string // "http", "worker", "cli"
}

type accountContextKey struct{}

// WithAccount adds AccountContext to context.
func WithAccount(ctx context.Context, account *AccountContext) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// GetAccount returns AccountContext from context.
func GetAccount(ctx context.Context) *AccountContext {
	if v, ok := ctx.Value(accountContextKey{}).(*AccountContext); ok {
		return v
	}
	return nil
}

// GetAccountID returns the owning account ID from context or empty string.
func GetAccountID(ctx context.Context) string {
	if a := GetAccount(ctx); a != nil {
		return a.AccountID
	}
	return ""
}

// GetActorID returns the acting user ID or empty string.
func GetActorID(ctx context.Context) string {
	if a := GetAccount(ctx); a != nil {
		return a.ActorID
	}
	return ""
}
