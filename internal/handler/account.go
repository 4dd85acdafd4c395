package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/ncats/internal/admission"
	"github.com/dukerupert/ncats/internal/auth"
	"github.com/dukerupert/ncats/internal/flash"
	"github.com/dukerupert/ncats/internal/model"
	"github.com/dukerupert/ncats/internal/upload"
)

// ApplicationRepository is implemented by store.ApplicationStore and
// filestore.Applications.
type ApplicationRepository interface {
	Create(ctx context.Context, userID int64, name, email, resumePath string) (*model.Application, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.Application, error)
}

// AccountHandler serves the pages behind RequireAuth.
type AccountHandler struct {
	auth         *auth.Service
	applications ApplicationRepository
	storage      upload.Storage
	pages        *Renderer
	now          func() time.Time
	logger       *slog.Logger
}

func NewAccountHandler(svc *auth.Service, apps ApplicationRepository, storage upload.Storage, pages *Renderer, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		auth:         svc,
		applications: apps,
		storage:      storage,
		pages:        pages,
		now:          time.Now,
		logger:       logger,
	}
}

// currentUser loads the account behind the request's session, redirecting
// home when it no longer exists.
func (h *AccountHandler) currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := h.auth.User(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load user", "error", err)
		flash.Add(w, r, flash.Danger, "An error occurred while accessing your profile. Please try again.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil
	}
	if user == nil {
		flash.Add(w, r, flash.Danger, "User not found.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil
	}
	return user
}

func (h *AccountHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	h.pages.render(w, r, http.StatusOK, "dashboard.html", page{Title: "Dashboard", User: user})
}

func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	apps, err := h.applications.ListByUserID(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list applications", "user_id", user.ID, "error", err)
		flash.Add(w, r, flash.Danger, "An error occurred while accessing your profile. Please try again.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.pages.render(w, r, http.StatusOK, "profile.html", page{
		Title:        "Profile",
		User:         user,
		Applications: apps,
	})
}

func (h *AccountHandler) Apply(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.applyFailed(w, r, "Resume is missing or too large.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := strings.TrimSpace(r.PostFormValue("name"))
	email := strings.TrimSpace(r.PostFormValue("email"))
	if msg := admission.CheckName(name); msg != "" {
		h.applyFailed(w, r, msg)
		return
	}
	if !admission.ValidEmail(email) {
		h.applyFailed(w, r, admission.MsgEmailInvalid)
		return
	}

	file, header, err := r.FormFile("resume")
	if err != nil {
		h.applyFailed(w, r, "Please choose a resume to upload.")
		return
	}
	defer file.Close()
	if err := upload.CheckExtension(header.Filename); err != nil {
		h.applyFailed(w, r, "Resume must be a PDF, DOC, or DOCX file.")
		return
	}

	key := upload.ObjectKey(userID, h.now(), header.Filename)
	location, err := h.storage.Put(r.Context(), key, upload.ContentType(header.Filename), file, header.Size)
	if err != nil {
		h.logger.Error("upload resume", "user_id", userID, "error", err)
		msg := "Error uploading resume. Please try again."
		if errors.Is(err, upload.ErrTooLarge) {
			msg = "Resume is missing or too large."
		}
		h.applyFailed(w, r, msg)
		return
	}

	if _, err := h.applications.Create(r.Context(), userID, name, email, location); err != nil {
		h.logger.Error("create application", "user_id", userID, "error", err)
		h.applyFailed(w, r, "An error occurred during application submission. Please try again.")
		return
	}

	h.logger.Info("application submitted", "user_id", userID)
	flash.Add(w, r, flash.Success, "Application submitted successfully for "+name+"!")
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

func (h *AccountHandler) applyFailed(w http.ResponseWriter, r *http.Request, msg string) {
	flash.Add(w, r, flash.Danger, msg)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}
