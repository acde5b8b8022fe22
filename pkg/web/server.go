// Package web serves the operator surface: the REST API, the WebSocket
// stream, TLS bootstrap and session auth.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creker7/netvigil/pkg/alerts"
	"github.com/creker7/netvigil/pkg/config"
	"github.com/creker7/netvigil/pkg/discovery"
	"github.com/creker7/netvigil/pkg/history"
	"github.com/creker7/netvigil/pkg/store"
	"github.com/creker7/netvigil/pkg/users"
)

const shutdownTimeout = 5 * time.Second

// Monitor is the scheduler surface the API drives.
type Monitor interface {
	StartMonitoring()
	StopMonitoring()
	Running() bool
	ApplyConfig(cfg config.Config)
}

// Options wires the server to the rest of the service.
type Options struct {
	Root      string // config root
	Addr      string
	PrimaryIP net.IP

	Store      *store.Store
	Users      *users.Store
	History    *history.Store
	Scanner    *discovery.Scanner
	Monitor    Monitor
	Dispatcher *alerts.Dispatcher
	Secrets    *config.Secrets
	Config     config.Config
}

// Server is the HTTP(S) front end.
type Server struct {
	opts     Options
	router   *mux.Router
	sessions *sessionManager
	lockout  *lockout
	hub      *Hub
	noTLS    bool

	// Settings saves swap the snapshot while other handlers read it.
	cfgMu sync.RWMutex
	cfg   config.Config

	httpSrv *http.Server
}

func NewServer(opts Options) (*Server, error) {
	noTLS := tlsDisabled(opts.Root)

	sessions, err := newSessionManager(!noTLS)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		sessions: sessions,
		lockout:  newLockout(),
		noTLS:    noTLS,
		cfg:      opts.Config,
	}

	var status func() bool
	if opts.Monitor != nil {
		status = opts.Monitor.Running
	}

	s.hub = NewHub(func(sites []string) interface{} {
		return opts.Store.List(sites)
	}, status)

	if opts.Dispatcher != nil {
		opts.Dispatcher.SetBroadcaster(s.hub)
	}

	s.rebuildNotifiers()
	s.routes()

	return s, nil
}

// Hub exposes the broadcaster for components outside the request path.
func (s *Server) Hub() *Hub { return s.hub }

// config returns the live configuration snapshot.
func (s *Server) config() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	return s.cfg
}

func (s *Server) setConfig(cfg config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

// rebuildNotifiers recreates the mail and telegram notifiers from the
// current config and secret store. Called at startup and after every
// settings save.
func (s *Server) rebuildNotifiers() {
	if s.opts.Dispatcher == nil {
		return
	}

	cfg := s.config()

	var mail, telegram alerts.Notifier

	if cfg.Alerts.Mail || cfg.Alerts.MailRecap {
		password := ""
		if s.opts.Secrets != nil {
			password, _ = s.opts.Secrets.Get(config.SecretSMTPPassword)
		}

		mail = alerts.NewMailNotifier(cfg.Mail.Server, cfg.Mail.Port,
			cfg.Mail.Email, password, cfg.Mail.Recipients)
	}

	if cfg.Alerts.Telegram {
		token := ""
		if s.opts.Secrets != nil {
			token, _ = s.opts.Secrets.Get(config.SecretTelegramToken)
		}

		telegram = alerts.NewTelegramNotifier(token, cfg.Telegram.ChatIDs)
	}

	s.opts.Dispatcher.Configure(cfg.General.SiteName, alerts.Channels{
		Popup:    cfg.Alerts.Popup,
		Mail:     cfg.Alerts.Mail,
		Telegram: cfg.Alerts.Telegram,
	}, mail, telegram)
}

type ctxKey int

const sessionKey ctxKey = 0

func sessionFrom(r *http.Request) *session {
	sess, _ := r.Context().Value(sessionKey).(*session)
	return sess
}

// authenticate wraps a handler with session validation; adminOnly gates
// mutation endpoints to the admin role.
func (s *Server) authenticate(adminOnly bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if adminOnly && sess.claims.Role != users.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	}
}

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	any := func(path string, h http.HandlerFunc, methods ...string) {
		r.HandleFunc(path, s.authenticate(false, h)).Methods(methods...)
	}
	admin := func(path string, h http.HandlerFunc, methods ...string) {
		r.HandleFunc(path, s.authenticate(true, h)).Methods(methods...)
	}

	any("/api/logout", s.handleLogout, http.MethodPost)
	any("/api/hosts", s.handleHosts, http.MethodGet)
	any("/api/update_comment", s.handleUpdateComment, http.MethodPost)
	any("/api/update_host_name", s.handleUpdateHostName, http.MethodPost)
	any("/api/set_host_site", s.handleSetHostSite, http.MethodPost)
	any("/api/set_sites", s.handleSetSites, http.MethodPost)
	any("/api/change_password", s.handleChangePassword, http.MethodPost)
	any("/api/get_settings", s.handleGetSettings, http.MethodGet)
	any("/api/monitoring/temperature/{id}", s.handleTemperature, http.MethodGet)
	any("/api/monitoring/bandwidth/{id}", s.handleBandwidth, http.MethodGet)
	any("/api/stats", s.handleStats, http.MethodGet)
	any("/api/stats/export", s.handleStatsExport, http.MethodGet)
	any("/api/stats/report", s.handleStatsReport, http.MethodGet)
	any("/api/system", s.handleSystem, http.MethodGet)
	any("/socket.io/", s.handleWebSocket, http.MethodGet)

	admin("/api/add_hosts", s.handleAddHosts, http.MethodPost)
	admin("/api/delete_host", s.handleDeleteHost, http.MethodPost)
	admin("/api/exclude_host", s.handleExcludeHost, http.MethodPost)
	admin("/api/include_host", s.handleIncludeHost, http.MethodPost)
	admin("/api/set_host_notify", s.handleSetHostNotify, http.MethodPost)
	admin("/api/start_monitoring", s.handleStartMonitoring, http.MethodPost)
	admin("/api/stop_monitoring", s.handleStopMonitoring, http.MethodPost)
	admin("/api/save_alerts", s.handleSaveAlerts, http.MethodPost)
	admin("/api/save_smtp", s.handleSaveSMTP, http.MethodPost)
	admin("/api/save_telegram", s.handleSaveTelegram, http.MethodPost)
	admin("/api/save_mail_recap", s.handleSaveMailRecap, http.MethodPost)
	admin("/api/network_scan/start", s.handleScanStart, http.MethodPost)
	admin("/api/network_scan/stop", s.handleScanStop, http.MethodPost)
	admin("/api/backup", s.handleBackup, http.MethodGet)

	s.router = r
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// shutdown path also unblocks a listener stuck in accept.
func (s *Server) Run(ctx context.Context) error {
	addr := s.opts.Addr
	if addr == "" {
		if s.noTLS {
			addr = ":8080"
		} else {
			addr = ":8443"
		}
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Store observer: every change becomes a hosts_update push.
	sub := s.opts.Store.Subscribe()
	defer sub.Close()

	go func() {
		for range sub.C {
			s.hub.BroadcastHosts()
		}
	}()

	// Scanner results stream to connected operators for the life of the
	// server, across scans.
	if s.opts.Scanner != nil {
		go func() {
			for dev := range s.opts.Scanner.Devices() {
				s.hub.DeviceFound(dev)
			}
		}()
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Web: shutdown: %v", err)
			s.httpSrv.Close()
		}
	}()

	var err error

	if s.noTLS {
		log.Printf("Web: TLS disabled by sentinel file, serving HTTP on %s", addr)
		err = s.httpSrv.ListenAndServe()
	} else {
		certPath, keyPath, certErr := ensureCertificate(s.opts.Root, s.opts.PrimaryIP)
		if certErr != nil {
			return certErr
		}

		log.Printf("Web: serving HTTPS on %s", addr)
		err = s.httpSrv.ListenAndServeTLS(certPath, keyPath)
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Web: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func writeSuccess(w http.ResponseWriter, extra map[string]interface{}) {
	out := map[string]interface{}{"success": true}

	for k, v := range extra {
		out[k] = v
	}

	writeJSON(w, http.StatusOK, out)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	return true
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
