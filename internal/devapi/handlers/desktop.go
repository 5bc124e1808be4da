package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi/middleware"
	"github.com/kolbeh/desktop/internal/devapi/model"
	"github.com/kolbeh/desktop/internal/devapi/repo"
	"github.com/kolbeh/desktop/internal/logger"
)

type titled struct {
	Title string `json:"title"`
}

type named struct {
	Name string `json:"name"`
}

type desktopJSON struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	CPU         int    `json:"cpu"`
	RAM         int    `json:"ram"`
	Storage     int    `json:"storage"`
	Status      string `json:"status"`
	StatusTitle string `json:"status_title"`
	Image       titled `json:"image"`
	Plan        titled `json:"plan"`
	Country     named  `json:"country"`
}

type connectionParams struct {
	VDIURL string `json:"vdi_url"`
}

// DesktopHandler serves the desktop list and connection URLs
type DesktopHandler struct {
	desktops repo.DesktopRepo
	log      *zap.Logger
}

// NewDesktopHandler creates a DesktopHandler
func NewDesktopHandler(desktops repo.DesktopRepo, log *zap.Logger) *DesktopHandler {
	return &DesktopHandler{desktops: desktops, log: log}
}

// HandleList handles GET /cloud/desktop (protected)
func (h *DesktopHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.desktops.ListByOwner(r.Context(), user.PhoneNumber)
	if err != nil {
		h.log.Error("list desktops", logger.Phone(user.PhoneNumber), zap.Error(err))
		respondWithError(w, h.log, http.StatusInternalServerError, "failed to load desktops")
		return
	}

	out := make([]desktopJSON, 0, len(list))
	for _, d := range list {
		out = append(out, toJSON(d))
	}
	respondOK(w, h.log, "", dataParams[[]desktopJSON]{Data: out})
}

// HandleLogin handles GET /cloud/desktop/{id}/login (protected) and returns
// the desktop's VDI URL.
func (h *DesktopHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	d, err := h.desktops.GetForOwner(r.Context(), user.PhoneNumber, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, h.log, http.StatusNotFound, "desktop not found")
			return
		}
		h.log.Error("load desktop", zap.String("desktop_id", id), zap.Error(err))
		respondWithError(w, h.log, http.StatusInternalServerError, "failed to load desktop")
		return
	}
	if d.VDIURL == "" {
		respondWithError(w, h.log, http.StatusConflict, "desktop has no connection url")
		return
	}
	respondOK(w, h.log, "", connectionParams{VDIURL: d.VDIURL})
}

func toJSON(d model.Desktop) desktopJSON {
	return desktopJSON{
		ID:          d.ID,
		Title:       d.Title,
		CPU:         d.CPU,
		RAM:         d.RAM,
		Storage:     d.Storage,
		Status:      d.Status,
		StatusTitle: d.StatusTitle,
		Image:       titled{Title: d.ImageTitle},
		Plan:        titled{Title: d.PlanTitle},
		Country:     named{Name: d.CountryName},
	}
}
