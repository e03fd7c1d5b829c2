package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/license"
)

// AdminAuthConfig configures HTTP Basic authentication for admin routes.
type AdminAuthConfig struct {
	Username     string
	PasswordHash string // bcrypt; empty rejects every request
	Realm        string
	Now          func() time.Time
}

// AdminAuth verifies Basic credentials against a bcrypt hash and stores the
// authenticated license.Actor in the request context.
func AdminAuth(cfg AdminAuthConfig, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	if cfg.Realm == "" {
		cfg.Realm = "licsrv admin"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger = logger.With(slog.String("component", "admin_auth"))
	hash := []byte(cfg.PasswordHash)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || len(hash) == 0 ||
				subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Username)) != 1 ||
				bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				logger.WarnContext(r.Context(), "admin authentication failed",
					slog.String("username", user),
					slog.String("remote_addr", r.RemoteAddr))
				w.Header().Set("WWW-Authenticate", `Basic realm="`+cfg.Realm+`", charset="UTF-8"`)
				errorHandler.HandleError(w, r, license.ErrUnauthenticated)
				return
			}

			actor := license.Actor{
				Subject:         user,
				Method:          "basic",
				AuthenticatedAt: cfg.Now().UTC(),
			}
			next.ServeHTTP(w, r.WithContext(license.WithActor(r.Context(), actor)))
		})
	}
}
