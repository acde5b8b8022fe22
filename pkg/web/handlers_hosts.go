package web

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/creker7/netvigil/pkg/models"
	"github.com/creker7/netvigil/pkg/store"
)

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	hosts := s.opts.Store.List(s.sessions.sites(sess))

	writeSuccess(w, map[string]interface{}{"hosts": hosts})
}

// handleAddHosts bulk-adds targets. Entries like "192.168.1.10-20" expand
// server-side into one endpoint per address.
func (s *Server) handleAddHosts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Targets []string `json:"targets"`
		Site    string   `json:"site"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	var (
		added    []models.Endpoint
		failures []string
	)

	for _, raw := range body.Targets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		for _, target := range expandRange(raw) {
			ep, err := s.opts.Store.Upsert(models.Endpoint{Target: target, Site: body.Site})
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", target, err))
				continue
			}

			added = append(added, ep)
		}
	}

	writeSuccess(w, map[string]interface{}{
		"added":    added,
		"failures": failures,
	})
}

// expandRange turns "a.b.c.x-y" into individual addresses. Anything else
// passes through unchanged.
func expandRange(target string) []string {
	lastDot := strings.LastIndex(target, ".")
	if lastDot < 0 || !strings.Contains(target[lastDot:], "-") {
		return []string{target}
	}

	prefix := target[:lastDot]
	if net.ParseIP(prefix+".1") == nil {
		return []string{target}
	}

	fromStr, toStr, ok := strings.Cut(target[lastDot+1:], "-")
	if !ok {
		return []string{target}
	}

	from, err1 := strconv.Atoi(fromStr)
	to, err2 := strconv.Atoi(toStr)

	if err1 != nil || err2 != nil || from < 0 || to > 255 || from > to {
		return []string{target}
	}

	out := make([]string, 0, to-from+1)

	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s.%d", prefix, i))
	}

	return out
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	var body idRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.opts.Store.Delete(body.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	if s.opts.Users != nil {
		_ = s.opts.Users.DeleteHostSettings(body.ID)
		_ = s.opts.Users.RemoveEndpointEverywhere(body.ID)
	}

	writeSuccess(w, nil)
}

func (s *Server) handleExcludeHost(w http.ResponseWriter, r *http.Request) {
	s.setExclusion(w, r, true)
}

func (s *Server) handleIncludeHost(w http.ResponseWriter, r *http.Request) {
	s.setExclusion(w, r, false)
}

func (s *Server) setExclusion(w http.ResponseWriter, r *http.Request, excluded bool) {
	var body idRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.opts.Store.SetExclusion(body.ID, excluded); err != nil {
		writeStoreError(w, err)
		return
	}

	writeSuccess(w, nil)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID      string `json:"id"`
		Comment string `json:"comment"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.opts.Store.Annotate(body.ID, nil, nil, &body.Comment); err != nil {
		writeStoreError(w, err)
		return
	}

	writeSuccess(w, nil)
}

func (s *Server) handleUpdateHostName(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.opts.Store.Annotate(body.ID, &body.Name, nil, nil); err != nil {
		writeStoreError(w, err)
		return
	}

	writeSuccess(w, nil)
}

func (s *Server) handleSetHostSite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Site string `json:"site"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.opts.Store.Annotate(body.ID, nil, &body.Site, nil); err != nil {
		writeStoreError(w, err)
		return
	}

	writeSuccess(w, nil)
}

// handleSetHostNotify updates the per-host channel opt-outs in the store
// and persists them.
func (s *Server) handleSetHostNotify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		Email    bool   `json:"email"`
		Telegram bool   `json:"telegram"`
	}

	if !decodeBody(w, r, &body) {
		return
	}

	opts := models.NotifyOptions{Email: body.Email, Telegram: body.Telegram}

	if err := s.opts.Store.SetNotify(body.ID, opts); err != nil {
		writeStoreError(w, err)
		return
	}

	if s.opts.Users != nil {
		if err := s.opts.Users.SetHostNotify(body.ID, opts); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist notification settings")
			return
		}
	}

	writeSuccess(w, nil)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateTarget):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
