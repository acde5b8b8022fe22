package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/creker7/netvigil/pkg/config"
	"github.com/creker7/netvigil/pkg/sysinfo"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()

	// Secrets are write-only through the API.
	cfg.Mail.Password = ""
	cfg.Telegram.Token = ""

	writeSuccess(w, map[string]interface{}{
		"settings": cfg,
		"sites":    s.opts.Store.Sites(),
		"secrets_set": map[string]bool{
			"smtp_password":  s.opts.Secrets != nil && s.opts.Secrets.Has(config.SecretSMTPPassword),
			"telegram_token": s.opts.Secrets != nil && s.opts.Secrets.Has(config.SecretTelegramToken),
		},
	})
}

// saveConfig persists the updated config and pushes it into the scheduler
// and dispatcher.
func (s *Server) saveConfig(w http.ResponseWriter, cfg config.Config) bool {
	if err := config.Save(s.opts.Root, cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}

	s.setConfig(cfg)

	if s.opts.Monitor != nil {
		s.opts.Monitor.ApplyConfig(cfg)
	}

	s.rebuildNotifiers()

	return true
}

func (s *Server) handleSaveAlerts(w http.ResponseWriter, r *http.Request) {
	var body config.Alerts
	if !decodeBody(w, r, &body) {
		return
	}

	cfg := s.config()
	cfg.Alerts = body

	if s.saveConfig(w, cfg) {
		writeSuccess(w, nil)
	}
}

func (s *Server) handleSaveSMTP(w http.ResponseWriter, r *http.Request) {
	var body config.Mail
	if !decodeBody(w, r, &body) {
		return
	}

	if body.Password != "" && s.opts.Secrets != nil {
		if err := s.opts.Secrets.Set(config.SecretSMTPPassword, body.Password); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store password")
			return
		}
	}

	body.Password = "" // never persisted in plaintext

	cfg := s.config()
	cfg.Mail = body

	if s.saveConfig(w, cfg) {
		writeSuccess(w, nil)
	}
}

func (s *Server) handleSaveTelegram(w http.ResponseWriter, r *http.Request) {
	var body config.Telegram
	if !decodeBody(w, r, &body) {
		return
	}

	if body.Token != "" && s.opts.Secrets != nil {
		if err := s.opts.Secrets.Set(config.SecretTelegramToken, body.Token); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store token")
			return
		}
	}

	body.Token = ""

	cfg := s.config()
	cfg.Telegram = body

	if s.saveConfig(w, cfg) {
		writeSuccess(w, nil)
	}
}

func (s *Server) handleSaveMailRecap(w http.ResponseWriter, r *http.Request) {
	var body config.MailRecap
	if !decodeBody(w, r, &body) {
		return
	}

	cfg := s.config()
	cfg.MailRecap = body

	if s.saveConfig(w, cfg) {
		writeSuccess(w, nil)
	}
}

func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	if s.opts.Monitor != nil {
		s.opts.Monitor.StartMonitoring()
		s.hub.MonitoringStatus(true)
	}

	writeSuccess(w, nil)
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	if s.opts.Monitor != nil {
		s.opts.Monitor.StopMonitoring()
		s.hub.MonitoringStatus(false)
	}

	writeSuccess(w, nil)
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not available")
		return
	}

	// The scan outlives the request; it is bounded by its own window.
	if err := s.opts.Scanner.Start(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeSuccess(w, nil)
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if s.opts.Scanner != nil {
		s.opts.Scanner.Stop()
	}

	writeSuccess(w, nil)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="netvigil-backup-`+time.Now().Format("20060102-150405")+`.zip"`)

	if err := config.Backup(s.opts.Root, w); err != nil {
		// Headers are gone; all we can do is log.
		log.Printf("Web: backup failed: %v", err)
	}
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"system": sysinfo.Collect(r.Context())})
}
