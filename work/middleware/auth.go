package middleware

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"iptv-browser/work/metrics"
)

// BearerAuth guards a route with a static bearer token. The plaintext token
// is read from the environment at startup and only its bcrypt hash is kept
// in memory; per-request comparison goes through bcrypt.
type BearerAuth struct {
	hash []byte
}

// NewBearerAuth hashes the token. An empty token is a configuration error:
// the guarded route would be unreachable, which is better caught at startup.
func NewBearerAuth(token string) (*BearerAuth, error) {
	if token == "" {
		return nil, errors.New("bearer token must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &BearerAuth{hash: hash}, nil
}

// Wrap rejects requests without the exact bearer token before the handler
// runs, so an unauthorized request can never trigger upstream traffic.
// CORS preflights carry no Authorization header and pass through.
func (a *BearerAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			metrics.HighlightRequests.WithLabelValues("unauthorized").Inc()
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("WWW-Authenticate", `Bearer realm="highlights"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}
