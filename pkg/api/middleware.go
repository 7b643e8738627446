package api

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const annotatorContextKey contextKey = "annotator"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAnnotator checks HTTP basic credentials against the configured
// annotators and injects the username into the request context.
func (s *server) requireAnnotator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w, "authentication required")

			return
		}

		hash, known := s.annotators[username]
		if !known {
			s.unauthorized(w, "invalid credentials")

			return
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
			s.log.WithField("username", username).
				Warn("Rejected annotator credentials")

			s.unauthorized(w, "invalid credentials")

			return
		}

		ctx := context.WithValue(r.Context(), annotatorContextKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="harmony", charset="UTF-8"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{msg})
}

// annotatorFromContext extracts the authenticated annotator.
func annotatorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(annotatorContextKey).(string)

	return name
}
