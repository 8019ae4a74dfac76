// File path: internal/api/auth_handler.go
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/coreflowai/agent-dog/internal/auth"
	"github.com/coreflowai/agent-dog/internal/common"
	"github.com/coreflowai/agent-dog/internal/store"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("email and password are required"))
		return
	}
	userID, err := s.verifier.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("Unauthorized"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    s.verifier.IssueToken(userID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	common.Logger().Info("auth: sign-in", "user", userID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID})
}

// handleSignUp always refuses: account creation happens server-side through
// invite redemption, never through the public endpoint.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusForbidden, fmt.Errorf("sign-up is disabled"))
}

func (s *Server) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	userID, err := s.verifier.VerifyToken(cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	user, err := s.store.UserByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": map[string]interface{}{"userId": user.ID, "email": user.Email},
	})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// handleCreateAPIKey mints a key for the cookie-authed principal. The
// plaintext key appears in this response only.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifier.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("Unauthorized"))
		return
	}
	var req createKeyRequest
	if r.Body != nil {
		_ = decodeJSON(r, &req)
	}
	key, err := s.verifier.IssueKey(r.Context(), userID, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	common.Logger().Info("auth: api key issued", "user", userID)
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}
