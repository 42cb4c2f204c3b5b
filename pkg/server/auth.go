package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/codemode-ai/codemode/pkg/errors"
)

// bearerAuth authenticates every request with a constant-time token
// compare. Auth enabled without a configured token fails closed: every
// request is rejected rather than letting the service run open.
func bearerAuth(token string, disabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled {
				next.ServeHTTP(w, r)
				return
			}
			if token == "" {
				writeError(w, errors.NewMisconfigured("authentication enabled but no token configured", nil))
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, errors.NewAuthRequired("missing Authorization header", nil))
				return
			}
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, errors.NewAuthRequired("Authorization header must use the Bearer scheme", nil))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, errors.NewAuthInvalid("invalid token", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
