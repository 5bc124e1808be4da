package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi/middleware"
)

type userInfo struct {
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	Balance      json.Number `json:"balance"`
	PointBalance json.Number `json:"point_balance"`
}

// AccountHandler serves the signed-in user's profile
type AccountHandler struct {
	log *zap.Logger
}

// NewAccountHandler creates an AccountHandler
func NewAccountHandler(log *zap.Logger) *AccountHandler {
	return &AccountHandler{log: log}
}

// HandleUserInfo handles GET /user/info (protected)
func (h *AccountHandler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, h.log, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondOK(w, h.log, "", userInfo{
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Balance:      json.Number(strconv.FormatInt(user.Balance, 10)),
		PointBalance: json.Number(strconv.FormatInt(user.PointBalance, 10)),
	})
}
