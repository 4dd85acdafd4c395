package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dukerupert/ncats/internal/admission"
	"github.com/dukerupert/ncats/internal/auth"
	"github.com/dukerupert/ncats/internal/flash"
	"github.com/dukerupert/ncats/internal/middleware"
	"github.com/dukerupert/ncats/internal/reset"
	"github.com/dukerupert/ncats/internal/session"
)

const (
	defaultLoginRedirect = "/dashboard"

	msgChallengeFailed    = "reCAPTCHA verification failed."
	msgInvalidCredentials = "Invalid username or password."
	msgDuplicateUsername  = "Username already exists!"
	msgDuplicateEmail     = "Email already registered!"
	msgLoggedOut          = "You have been logged out."
	msgResetSent          = "A password reset link has been sent to your email."
	msgResetUnknownEmail  = "No account found with that email."
	msgResetInvalid       = "The password reset link is invalid or has expired."
	msgResetDone          = "Your password has been reset successfully. Please log in."
)

type AuthHandler struct {
	auth     *auth.Service
	sessions *session.Manager
	pages    *Renderer
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, sessions *session.Manager, pages *Renderer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     svc,
		sessions: sessions,
		pages:    pages,
		logger:   logger,
	}
}

func (h *AuthHandler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.pages.render(w, r, http.StatusOK, "index.html", page{Title: "Home"})
}

func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "register.html", page{Title: "Register"})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	// Forms without a confirmation field skip the match check.
	_, confirmSent := r.PostForm["confirm_password"]

	user, err := h.auth.Register(r.Context(), auth.Registration{
		Username:        r.PostFormValue("username"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		Confirm:         r.PostFormValue("confirm_password"),
		ConfirmRequired: confirmSent,
		Challenge:       r.PostFormValue(admission.ChallengeResponseForm),
		RemoteIP:        middleware.RealIP(r),
	})
	if err != nil {
		flash.Add(w, r, flash.Danger, h.registerError(err))
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	flash.Add(w, r, flash.Success, "Account for "+user.Username+" created successfully! Please log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *AuthHandler) registerError(err error) string {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Msg
	case errors.Is(err, auth.ErrChallengeFailed):
		return msgChallengeFailed
	case errors.Is(err, auth.ErrDuplicateUsername):
		return msgDuplicateUsername
	case errors.Is(err, auth.ErrDuplicateEmail):
		return msgDuplicateEmail
	default:
		h.logger.Error("register", "error", err)
		return "An error occurred during registration. Please try again."
	}
}

func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "login.html", page{
		Title: "Log in",
		Next:  r.URL.Query().Get("next"),
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := r.FormValue("next")

	user, err := h.auth.Authenticate(r.Context(), auth.Credentials{
		Username:  r.PostFormValue("username"),
		Password:  r.PostFormValue("password"),
		Challenge: r.PostFormValue(admission.ChallengeResponseForm),
		RemoteIP:  middleware.RealIP(r),
	})
	if err != nil {
		flash.Add(w, r, flash.Danger, h.loginError(err))
		target := "/login"
		if next != "" {
			target += "?next=" + url.QueryEscape(next)
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	if err := h.sessions.Issue(w, r, user.ID); err != nil {
		h.logger.Error("issue session", "user_id", user.ID, "error", err)
		flash.Add(w, r, flash.Danger, "An error occurred during login. Please try again.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	flash.Add(w, r, flash.Success, "Welcome back, "+user.Username+"!")
	http.Redirect(w, r, admission.SafeRedirect(r, next, defaultLoginRedirect), http.StatusSeeOther)
}

func (h *AuthHandler) loginError(err error) string {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Msg
	case errors.Is(err, auth.ErrChallengeFailed):
		return msgChallengeFailed
	case errors.Is(err, auth.ErrInvalidCredentials):
		return msgInvalidCredentials
	default:
		h.logger.Error("login", "error", err)
		return "An error occurred during login. Please try again."
	}
}

// Logout always succeeds, with or without a live session.
// LogoutPage asks before logging out, so a cross-site GET (an <img> or a
// link) cannot end the session. Without a session there is nothing to
// confirm.
func (h *AuthHandler) LogoutPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessions.Current(r); !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.pages.render(w, r, http.StatusOK, "logout.html", page{Title: "Log out"})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(w, r)
	flash.Add(w, r, flash.Success, msgLoggedOut)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// loggedIn sends an authenticated caller home. Reset pages are for users
// who cannot log in.
func (h *AuthHandler) loggedIn(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := h.sessions.Current(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return true
	}
	return false
}

func (h *AuthHandler) ResetRequestPage(w http.ResponseWriter, r *http.Request) {
	if h.loggedIn(w, r) {
		return
	}
	h.pages.render(w, r, http.StatusOK, "reset_request.html", page{Title: "Reset password"})
}

func (h *AuthHandler) ResetRequest(w http.ResponseWriter, r *http.Request) {
	if h.loggedIn(w, r) {
		return
	}

	res, err := h.auth.RequestReset(r.Context(), r.PostFormValue("email"))
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		flash.Add(w, r, flash.Danger, ve.Msg)
		http.Redirect(w, r, "/reset_request", http.StatusSeeOther)
		return
	case errors.Is(err, auth.ErrUnknownEmail):
		flash.Add(w, r, flash.Danger, msgResetUnknownEmail)
	case err != nil:
		h.logger.Error("reset request", "error", err)
		flash.Add(w, r, flash.Danger, "An error occurred while processing your request. Please try again.")
	case res.DevLink != "":
		flash.Add(w, r, flash.Info, "Password reset link (dev mode): "+res.DevLink)
	default:
		flash.Add(w, r, flash.Success, msgResetSent)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) ResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	if h.loggedIn(w, r) {
		return
	}

	token := r.PathValue("token")
	if _, err := h.auth.CheckResetToken(r.Context(), token); err != nil {
		h.resetFailed(w, r, err)
		return
	}
	h.pages.render(w, r, http.StatusOK, "reset_password.html", page{
		Title: "Choose a new password",
		Token: token,
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if h.loggedIn(w, r) {
		return
	}

	token := r.PathValue("token")
	err := h.auth.ResetPassword(r.Context(), token, r.PostFormValue("password"), r.PostFormValue("confirm_password"))
	var ve *auth.ValidationError
	if errors.As(err, &ve) {
		flash.Add(w, r, flash.Danger, ve.Msg)
		http.Redirect(w, r, "/reset_password/"+url.PathEscape(token), http.StatusSeeOther)
		return
	}
	if err != nil {
		h.resetFailed(w, r, err)
		return
	}

	flash.Add(w, r, flash.Success, msgResetDone)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *AuthHandler) resetFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, reset.ErrNotFound) || errors.Is(err, reset.ErrExpired) {
		flash.Add(w, r, flash.Danger, msgResetInvalid)
	} else {
		h.logger.Error("reset password", "error", err)
		flash.Add(w, r, flash.Danger, "An error occurred while resetting your password. Please try again.")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
