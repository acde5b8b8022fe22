package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/creker7/netvigil/pkg/users"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	source := sourceAddr(r)

	if s.lockout.locked(source) {
		writeError(w, http.StatusTooManyRequests, "too many failed logins, try again later")
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	u, err := s.opts.Users.Authenticate(body.Username, body.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			s.lockout.fail(source)
			writeError(w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		log.Printf("Web: login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")

		return
	}

	s.lockout.reset(source)

	cookie, err := s.sessions.open(u)
	if err != nil {
		log.Printf("Web: failed to open session: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")

		return
	}

	http.SetCookie(w, cookie)
	writeSuccess(w, map[string]interface{}{
		"role":                 u.Role,
		"must_change_password": u.MustChangePassword,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.close(r)
	http.SetCookie(w, clearedCookie(!s.noTLS))
	writeSuccess(w, nil)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	if len(body.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}

	if _, err := s.opts.Users.Authenticate(sess.claims.Username, body.CurrentPassword); err != nil {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	if err := s.opts.Users.SetPassword(sess.claims.UserID, body.NewPassword); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	writeSuccess(w, nil)
}

// handleSetSites replaces the session's active site filter; an empty list
// clears it.
func (s *Server) handleSetSites(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var body struct {
		Sites []string `json:"sites"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	s.sessions.setSites(sess, body.Sites)
	writeSuccess(w, nil)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.hub.serveWS(w, r, s.sessions.sites(sess))
}
