package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/venkat-express/internal/session"
	"github.com/xenking/venkat-express/pkg/httpmiddleware"
)

// SessionResponse describes the identity of a device session.
type SessionResponse struct {
	DeviceID      string `json:"deviceId"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
}

// SignInRequest signs a device in as userId.
type SignInRequest struct {
	UserID string `json:"userId"`
}

func sessionResponse(s *session.Session) SessionResponse {
	st := s.Identity.Current()
	return SessionResponse{
		DeviceID:      s.DeviceID,
		Authenticated: st.Authenticated,
		UserID:        st.UserID,
	}
}

// GetSession handles GET /api/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, sessionResponse(s))
}

// SignIn handles POST /api/session/sign-in. It returns once both engines
// have reconciled with the user's remote documents, so a following GET sees
// the merged state.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "userId is required")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SignIn(req.UserID); err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, r, http.StatusOK, sessionResponse(s))
}

// SignOut handles POST /api/session/sign-out. The cart stays on the device;
// the wishlist falls back to the guest list.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.SignOut()
	respondJSON(w, r, http.StatusOK, sessionResponse(s))
}
