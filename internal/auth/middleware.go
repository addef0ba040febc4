package auth

import (
	"net/http"
)

// Authenticator authenticates admin requests. It supports a statically
// configured admin key (compared in constant time) plus any number of
// issued keys stored as bcrypt hashes.
type Authenticator struct {
	adminKey   string
	hashedKeys []string
}

// NewAuthenticator creates an Authenticator. adminKey may be empty if
// only hashed keys are in use.
func NewAuthenticator(adminKey string, hashedKeys []string) *Authenticator {
	return &Authenticator{
		adminKey:   adminKey,
		hashedKeys: hashedKeys,
	}
}

// Authenticate reports whether the Authorization header carries a valid
// admin credential.
func (a *Authenticator) Authenticate(authHeader string) bool {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return false
	}

	if a.adminKey != "" && VerifyAPIKeyConstantTime(token, a.adminKey) {
		return true
	}

	for _, hash := range a.hashedKeys {
		if VerifyAPIKey(token, hash) {
			return true
		}
	}
	return false
}

// RequireAdmin wraps a handler, rejecting requests without a valid
// admin credential.
func (a *Authenticator) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Authenticate(r.Header.Get("Authorization")) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gopaywall"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
