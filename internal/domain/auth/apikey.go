// Package auth defines the API key model used to guard the code
// authoring endpoints.
package auth

import "context"

// Scope names understood by the authoring endpoints. Admin keys may
// author any code; owner keys only codes over their own courses.
const (
	ScopeAdmin = "codes:admin"
	ScopeOwner = "codes:owner"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
	// AuthorID is the author the key acts as. For owner keys it is the
	// course owner's id; admin keys carry their operator id.
	AuthorID string
}

// HasScope reports whether the key carries the named scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
