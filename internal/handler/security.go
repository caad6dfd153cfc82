package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/edulane/promo-engine/internal/domain/auth"
)

type ctxKey int

const apiKeyCtxKey ctxKey = iota

// apiKeyFrom returns the authenticated key placed in the context by
// APIKeyAuth.
func apiKeyFrom(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey).(*auth.APIKeyInfo)
	return info, ok
}

// HashAPIKey computes the hex HMAC-SHA256 of a raw API key under the
// server pepper. The same function runs at seed time, so hashes match.
func HashAPIKey(raw, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyAuth authenticates requests by hashing the provided key,
// looking it up, and performing a constant-time comparison to prevent
// timing attacks. The validated key info is stored in the request
// context for the handlers.
func APIKeyAuth(keys auth.Repository, pepper string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Api-Key")
			if raw == "" {
				writeError(w, http.StatusUnauthorized, kindUnauthorized, "missing api key")
				return
			}

			hash := HashAPIKey(raw, pepper)
			info, err := keys.FindByHash(r.Context(), hash)
			if err != nil {
				writeError(w, http.StatusUnauthorized, kindUnauthorized, "invalid api key")
				return
			}

			// The lookup already matched, but compare again in constant
			// time in case the repository returned a stale or wrong row.
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(stored, hmacSum(raw, pepper)) != 1 {
				writeError(w, http.StatusUnauthorized, kindUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hmacSum(raw, pepper string) []byte {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(raw))
	return mac.Sum(nil)
}
