package middleware

import (
	"net/http"
	"net/url"

	"github.com/dukerupert/ncats/internal/auth"
	"github.com/dukerupert/ncats/internal/flash"
)

// LoginRequiredMessage is flashed when an anonymous client hits a
// protected page.
const LoginRequiredMessage = "Please log in to access this page."

// SessionReader resolves the user bound to a request. *session.Manager
// satisfies it.
type SessionReader interface {
	Current(r *http.Request) (int64, bool)
}

// RequireAuth validates the session cookie and populates AuthContext.
// Anonymous requests are sent to the login page with the original path in
// ?next= so login can bring them back.
func RequireAuth(sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := sessions.Current(r)
			if !ok {
				redirectToLogin(w, r)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	flash.Add(w, r, flash.Info, LoginRequiredMessage)
	http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
}
