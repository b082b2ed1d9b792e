package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/coachplan/pkg/contextkeys"
	"github.com/platinummonkey/coachplan/pkg/httputil"
)

// DefaultIdentityHeader is set by the upstream gateway after authenticating the caller
const DefaultIdentityHeader = "X-Account-ID"

// ErrNoIdentity is returned when a request carries no verified identity
var ErrNoIdentity = errors.New("missing account identity")

// IdentityVerifier extracts the pre-authenticated account id from a request
type IdentityVerifier interface {
	Verify(r *http.Request) (string, error)
}

// HeaderVerifier trusts an account id header written by an authenticating proxy
type HeaderVerifier struct {
	Header string
}

// NewHeaderVerifier creates a verifier reading header, or DefaultIdentityHeader when empty
func NewHeaderVerifier(header string) *HeaderVerifier {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return &HeaderVerifier{Header: header}
}

// Verify returns the trimmed header value
func (v *HeaderVerifier) Verify(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(v.Header))
	if id == "" {
		return "", ErrNoIdentity
	}
	return id, nil
}

// IdentityMiddleware rejects requests without a verified identity with 401
// and stores the account id in the request context.
func IdentityMiddleware(verifier IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := verifier.Verify(r)
			if err != nil || accountID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			ctx := contextkeys.WithAccountID(r.Context(), accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountID returns the verified account id of the request
func AccountID(r *http.Request) string {
	return contextkeys.GetAccountID(r.Context())
}
