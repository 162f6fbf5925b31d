// Package dummy implements a validator that speaks the harness's HTTP API but
// keeps no real ledger. It registers with the validator given by its
// LedgerURL, keeps merging that validator's peer list into its own, passes the
// peers it learned from others back to that validator, and stops
// on a shutdown command signed by the network's admin key. On shutdown it
// writes its peer list to <DataDirectory>/<NodeName>.cb, so that networks of
// dummies produce ledger files that can be archived and restored.
package dummy

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/valnet/src/validator"
	"github.com/sirupsen/logrus"
)

// DefaultSyncInterval is the pause between two peer list merges.
const DefaultSyncInterval = 200 * time.Millisecond

// Info is the body of a GET /status response.
type Info struct {
	Name      string
	URL       string
	LedgerURL string
	Genesis   bool
	Peers     int
}

// Service is a dummy validator.
type Service struct {
	sync.Mutex

	config       validator.Config
	self         validator.PeerInfo
	peers        map[string]validator.PeerInfo
	syncInterval time.Duration

	mux     *http.ServeMux
	server  *http.Server
	client  *http.Client
	logger  *logrus.Entry
	stop    chan struct{}
	closed  chan struct{}
	stopped sync.Once
}

// NewService creates a dummy validator from its configuration.
func NewService(cfg validator.Config, logger *logrus.Entry) *Service {
	self := validator.PeerInfo{Name: cfg.Name(), URL: cfg.URL()}

	service := &Service{
		config:       cfg,
		self:         self,
		peers:        map[string]validator.PeerInfo{self.Name: self},
		syncInterval: DefaultSyncInterval,
		mux:          http.NewServeMux(),
		client:       &http.Client{Timeout: validator.DefaultHTTPTimeout},
		logger:       logger.WithField("node", self.Name),
		stop:         make(chan struct{}),
		closed:       make(chan struct{}),
	}

	service.registerHandlers()

	return service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering validator API handlers")
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/status", s.makeHandler(s.GetStatus))
	s.mux.HandleFunc("/register", s.makeHandler(s.PostRegister))
	s.mux.HandleFunc("/command", s.makeHandler(s.PostCommand))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		fn(w, r)
	}
}

// SetSyncInterval changes the pause between two peer list merges. It must be
// called before Serve.
func (s *Service) SetSyncInterval(d time.Duration) {
	if d > 0 {
		s.syncInterval = d
	}
}

// Handler returns the HTTP handler of the service.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve listens on the configured HTTP port and blocks until the service is
// shut down.
func (s *Service) Serve() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort())

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.ServeListener(l)
}

// ServeListener serves on l and blocks until the service is shut down.
func (s *Service) ServeListener(l net.Listener) error {
	s.Lock()
	s.server = &http.Server{Handler: s.mux}
	s.Unlock()

	select {
	case <-s.stop:
		l.Close()
		return nil
	default:
	}

	s.logger.WithFields(logrus.Fields{
		"address":    l.Addr().String(),
		"ledger_url": s.config.LedgerURL(),
		"genesis":    s.config.Bool(validator.KeyGenesisLedger),
	}).Info("Serving validator API")

	if ledger := s.config.LedgerURL(); ledger != "" && ledger != validator.NoLedger {
		go s.syncLoop(ledger)
	}

	err := s.server.Serve(l)
	if err == http.ErrServerClosed {
		<-s.closed
		return nil
	}
	return err
}

// Shutdown stops the sync loop and the HTTP server, and writes the ledger
// file.
func (s *Service) Shutdown() {
	s.stopped.Do(func() {
		close(s.stop)

		if err := s.writeLedger(); err != nil {
			s.logger.WithError(err).Error("Writing ledger")
		}

		s.Lock()
		server := s.server
		s.Unlock()

		if server == nil {
			close(s.closed)
			return
		}

		// in-flight requests, like the shutdown command itself, complete
		// before the server closes
		go func() {
			server.Shutdown(context.Background())
			close(s.closed)
		}()
	})
}

// Peers returns the known peers, sorted by name.
func (s *Service) Peers() []validator.PeerInfo {
	s.Lock()
	defer s.Unlock()

	res := make([]validator.PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func (s *Service) addPeers(peers ...validator.PeerInfo) {
	s.Lock()
	defer s.Unlock()

	for _, p := range peers {
		if _, ok := s.peers[p.Name]; !ok {
			s.logger.WithField("peer", p.Name).Debug("New peer")
		}
		s.peers[p.Name] = p
	}
}

func (s *Service) syncLoop(ledger string) {
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		s.sync(ledger)

		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// sync registers with the ledger node, merges its peer list, and registers
// there every known peer it is missing, so that peers which joined through
// another validator reach the whole network.
func (s *Service) sync(ledger string) {
	if err := validator.Register(s.client, ledger, s.self); err != nil {
		s.logger.WithError(err).Debug("Registering with ledger")
		return
	}

	peers, err := validator.FetchPeers(s.client, ledger)
	if err != nil {
		s.logger.WithError(err).Debug("Fetching ledger peers")
		return
	}
	s.addPeers(peers...)

	known := make(map[string]bool, len(peers))
	for _, p := range peers {
		known[p.Name] = true
	}

	for _, p := range s.Peers() {
		if known[p.Name] {
			continue
		}
		if err := validator.Register(s.client, ledger, p); err != nil {
			s.logger.WithError(err).WithField("peer", p.Name).Debug("Forwarding peer to ledger")
			return
		}
	}
}

func (s *Service) writeLedger() error {
	dir := s.config.String(validator.KeyDataDirectory)
	if dir == "" {
		return nil
	}

	data, err := validator.Marshal(s.Peers())
	if err != nil {
		return err
	}

	return ioutil.WriteFile(filepath.Join(dir, s.self.Name+".cb"), data, 0644)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	data, err := validator.Marshal(s.Peers())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// GetStatus ...
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	info := Info{
		Name:      s.self.Name,
		URL:       s.self.URL,
		LedgerURL: s.config.LedgerURL(),
		Genesis:   s.config.Bool(validator.KeyGenesisLedger),
		Peers:     len(s.Peers()),
	}

	data, err := validator.Marshal(info)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// PostRegister ...
func (s *Service) PostRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var peer validator.PeerInfo
	if err := decodeBody(r, &peer); err != nil || peer.Name == "" {
		http.Error(w, "invalid peer", http.StatusBadRequest)
		return
	}

	s.addPeers(peer)
}

// PostCommand ...
func (s *Service) PostCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var cmd validator.Command
	if err := decodeBody(r, &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := cmd.Verify(s.config.String(validator.KeyAdministrationNode)); err != nil {
		s.logger.WithError(err).Warn("Rejected command")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	switch cmd.Action {
	case validator.ShutdownAction:
		s.logger.Info("Shutdown requested")
		s.Shutdown()
	default:
		http.Error(w, "unknown action "+cmd.Action, http.StatusBadRequest)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return validator.Unmarshal(data, v)
}
