package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-shop/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// and stores the resolved principal in the request context.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, the form API keys
// are stored in.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware rejects requests without a valid api_key header with 401.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := r.Context()
		hash := HashKey(s.pepper, key)
		info, err := s.apikeys.FindByHash(ctx, hash)
		if err != nil {
			zctx.From(ctx).Debug("API key rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		// The row is matched by hash, so compare once more in constant time.
		if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(info.KeyHash))) != 1 || info.UserID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx = auth.WithPrincipal(ctx, auth.Principal{
			UserID: info.UserID,
			Email:  info.Email,
			Scopes: info.Scopes,
		})
		ctx = zctx.With(ctx, zap.String("user_id", info.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
