// Package requestid assigns every request an identifier that is echoed in
// the response and carried through logs and audit events.
package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"attestor/pkg/requestcontext"
)

// Header is both read from callers and written to responses.
const Header = "X-Request-ID"

// Caller-supplied ids are only trusted when short and printable.
var validID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// Middleware reuses a well-formed incoming X-Request-ID or mints a UUID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if !validID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}
