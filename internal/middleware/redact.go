package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/fincomply/internal/identity"
)

// RedactQueryToken masks the session token in r.RequestURI so access logs
// never record it. r.URL is left intact for the identity middleware.
func RedactQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "" || !strings.Contains(r.URL.RawQuery, identity.QueryTokenParam+"=") {
			next.ServeHTTP(w, r)
			return
		}
		q := r.URL.Query()
		if !q.Has(identity.QueryTokenParam) {
			next.ServeHTTP(w, r)
			return
		}
		q.Set(identity.QueryTokenParam, "REDACTED")

		r2 := r.Clone(r.Context())
		r2.RequestURI = (&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: q.Encode()}).RequestURI()
		next.ServeHTTP(w, r2)
	})
}
