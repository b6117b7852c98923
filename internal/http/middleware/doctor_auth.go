package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const doctorIDKey contextKey = "doctorID"

// TokenParser validates a bearer token and returns the doctor id it was
// issued to.
type TokenParser interface {
	ParseToken(token string) (string, error)
}

// DoctorJWT requires a bearer token issued by doctor login.
func DoctorJWT(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parser == nil {
				http.Error(w, "doctor auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			doctorID, err := parser.ParseToken(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), doctorIDKey, doctorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwnSchedule rejects requests whose {doctorID} path parameter is not
// the authenticated doctor. Must run after DoctorJWT inside a chi route.
func RequireOwnSchedule(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := DoctorIDFromContext(r.Context())
		if !ok || chi.URLParam(r, "doctorID") != doctorID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DoctorIDFromContext returns the authenticated doctor id if present.
func DoctorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(doctorIDKey).(string)
	return id, ok && id != ""
}
