package network

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/mosaicnetworks/valnet/src/archive"
	"github.com/mosaicnetworks/valnet/src/config"
	"github.com/mosaicnetworks/valnet/src/identity"
	"github.com/mosaicnetworks/valnet/src/manifest"
	"github.com/mosaicnetworks/valnet/src/registry"
	"github.com/mosaicnetworks/valnet/src/validator"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Phase holds the configuration fields that differ between the stages of a
// network's life. Every validator is launched with a fresh copy of the
// network template, stamped with the Phase it belongs to.
type Phase struct {
	LedgerURL     string
	GenesisLedger bool
	Restore       bool
}

func (p Phase) apply(cfg validator.Config) {
	cfg[validator.KeyLedgerURL] = p.LedgerURL
	cfg[validator.KeyGenesisLedger] = p.GenesisLedger
	cfg[validator.KeyRestore] = p.Restore
}

// Network launches, expands and stops a network of validators. Lifecycle
// operations are serialised by the embedded mutex; lookups are not.
type Network struct {
	sync.Mutex

	conf     *config.Config
	launcher validator.Launcher
	logger   *logrus.Entry
	clock    clock.Clock
	goos     string

	dataDir  string
	tempDir  bool
	restored bool

	admin    *identity.Admin
	template validator.Config

	nextID   int
	nodes    *registry.Registry[validator.Node]
	manifest *manifest.Store
}

// New prepares a Network. The working directory is created, or a temporary
// one is used, the blockchain archive is restored into it, and the admin
// identity is loaded or generated. No validator is launched.
func New(conf *config.Config, launcher validator.Launcher) (*Network, error) {
	n := &Network{
		conf:     conf,
		launcher: launcher,
		logger:   conf.Logger(),
		clock:    conf.GetClock(),
		goos:     runtime.GOOS,
		nodes:    registry.New[validator.Node](),
	}

	if err := n.initDataDir(); err != nil {
		return nil, err
	}

	if err := n.init(); err != nil {
		n.removeTempDir()
		return nil, err
	}

	return n, nil
}

func (n *Network) initDataDir() error {
	if n.conf.DataDir == "" {
		dir, err := ioutil.TempDir("", "valnet-")
		if err != nil {
			return errors.Wrap(err, "creating temporary working directory")
		}
		n.dataDir = dir
		n.tempDir = true
		return nil
	}

	dir, err := filepath.Abs(n.conf.DataDir)
	if err != nil {
		return NewNetworkErr(ConfigurationError, "invalid working directory", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return NewNetworkErr(ConfigurationError, "creating working directory", err)
	}

	n.dataDir = dir
	return nil
}

func (n *Network) init() error {
	if n.conf.Archive != "" {
		if err := n.restoreArchive(n.conf.Archive); err != nil {
			return err
		}
		n.restored = true
	}

	if err := n.initAdmin(); err != nil {
		return err
	}

	n.initTemplate()

	store, err := manifest.Open(filepath.Join(n.dataDir, manifest.DirName), n.logger)
	if err != nil {
		return errors.Wrap(err, "opening manifest")
	}

	if err := store.Reset(); err != nil {
		store.Close()
		return errors.Wrap(err, "clearing manifest")
	}
	n.manifest = store

	n.logger.WithFields(logrus.Fields{
		"datadir":  n.dataDir,
		"admin":    n.admin.Address(),
		"restored": n.restored,
	}).Debug("Network ready")

	return nil
}

func (n *Network) restoreArchive(location string) error {
	local := location

	if archive.IsRemote(location) {
		_, key, err := archive.ParseS3URL(location)
		if err != nil {
			return NewNetworkErr(ConfigurationError, "invalid archive location", err)
		}

		tmp, err := ioutil.TempDir("", "valnet-archive-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)

		local = filepath.Join(tmp, path.Base(key))

		store, err := archive.NewS3Store(context.Background(), "")
		if err != nil {
			return NewNetworkErr(ConfigurationError, "connecting to S3", err)
		}

		if err := store.Fetch(context.Background(), location, local); err != nil {
			return NewNetworkErr(ConfigurationError, fmt.Sprintf("fetching archive %s", location), err)
		}
	}

	info, err := os.Stat(local)
	if err != nil {
		return NewNetworkErr(ConfigurationError, fmt.Sprintf("blockchain archive %s not found", location), err)
	}
	if !info.Mode().IsRegular() {
		return NewNetworkErr(ConfigurationError, fmt.Sprintf("blockchain archive %s is not a file", location), nil)
	}

	n.logger.WithField("archive", location).Info("Restoring blockchain archive")

	if err := archive.Import(local, n.dataDir, n.logger); err != nil {
		return errors.Wrapf(err, "importing %s", location)
	}

	return nil
}

func (n *Network) initAdmin() error {
	if n.conf.AdminKey != "" {
		admin, err := identity.NewWIFKeyfile(n.conf.AdminKey).ReadAdmin()
		if err != nil {
			return NewNetworkErr(ConfigurationError, "reading admin key", err)
		}
		n.admin = admin
		return nil
	}

	admin, err := identity.Generate()
	if err != nil {
		return errors.Wrap(err, "generating admin key")
	}
	n.admin = admin

	return nil
}

func (n *Network) initTemplate() {
	base := n.conf.Template
	if base == nil {
		base = config.DefaultTemplate()
	}

	tmpl := validator.Config(base).Clone()
	tmpl[validator.KeyDataDirectory] = n.dataDir
	tmpl[validator.KeyAdministrationNode] = n.admin.Address()
	tmpl[validator.KeyRestore] = false
	if tmpl.String(validator.KeyHost) == "" {
		tmpl[validator.KeyHost] = "localhost"
	}

	n.template = tmpl
}

// Admin returns the identity stamped into every validator as the
// administration node.
func (n *Network) Admin() *identity.Admin {
	return n.admin
}

// DataDir returns the working directory of the network.
func (n *Network) DataDir() string {
	return n.dataDir
}

// Restored reports whether a blockchain archive was imported.
func (n *Network) Restored() bool {
	return n.restored
}

// LaunchNetwork starts a network of count validators and waits for all of
// them to register. The first validator originates the ledger; the others
// join it.
func (n *Network) LaunchNetwork(count int) ([]validator.Node, error) {
	n.Lock()
	defer n.Unlock()

	if count < 1 {
		return nil, NewNetworkErr(ConfigurationError,
			fmt.Sprintf("a network needs at least one validator, got %d", count), nil)
	}

	genesis, err := n.launchNode(Phase{
		LedgerURL:     validator.NoLedger,
		GenesisLedger: true,
		Restore:       n.restored,
	})
	if err != nil {
		return nil, err
	}

	if err := n.waitForGenesis(genesis); err != nil {
		return nil, err
	}

	nodes := []validator.Node{genesis}
	anchor := genesis

	peers := Phase{LedgerURL: genesis.URL()}
	for i := 1; i < count; i++ {
		node, err := n.launchNode(peers)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		anchor = node
	}

	if err := n.waitForRegistration(nodes, anchor, n.conf.RegistrationTimeout); err != nil {
		return nil, err
	}

	n.logger.WithField("count", len(nodes)).Info("Network launched")

	return nodes, nil
}

func (n *Network) waitForGenesis(genesis validator.Node) error {
	var deadline time.Time
	if n.conf.GenesisTimeout > 0 {
		deadline = n.clock.Now().Add(n.conf.GenesisTimeout)
	}

	for !genesis.IsRegistered("") {
		if err := genesis.CheckError(); err != nil {
			genesis.DumpLog()
			genesis.DumpStderr()
			return NewNetworkErr(NodeFault, "genesis validator failed", err)
		}

		if !deadline.IsZero() && n.clock.Now().After(deadline) {
			return NewNetworkErr(RegistrationTimeout,
				fmt.Sprintf("genesis validator failed to register within %v", n.conf.GenesisTimeout), nil)
		}

		n.clock.Sleep(n.conf.PollInterval)
	}

	n.logger.WithField("url", genesis.URL()).Info("Genesis validator registered")

	return nil
}

// LaunchNode launches a single validator in the given phase, and adds it to
// the network. It does not wait for the validator to register.
func (n *Network) LaunchNode(p Phase) (validator.Node, error) {
	n.Lock()
	defer n.Unlock()

	return n.launchNode(p)
}

func (n *Network) launchNode(p Phase) (validator.Node, error) {
	id := n.nextID
	n.nextID++

	cfg := n.template.Clone()
	cfg[validator.KeyID] = id
	cfg[validator.KeyName] = validator.NodeName(id)
	cfg[validator.KeyHTTPPort] = n.conf.HTTPPort + id
	cfg[validator.KeyPort] = n.conf.UDPPort + id
	p.apply(cfg)

	n.logger.WithFields(logrus.Fields{
		"node":    cfg.Name(),
		"url":     cfg.URL(),
		"ledger":  p.LedgerURL,
		"genesis": p.GenesisLedger,
		"restore": p.Restore,
	}).Info("Launching validator")

	node := n.launcher.NewNode(cfg, n.dataDir, n.admin)

	if err := node.Start(!n.conf.ManualLaunch); err != nil {
		return nil, NewNetworkErr(NodeFault, fmt.Sprintf("starting %s", cfg.Name()), err)
	}

	if !n.nodes.Add(node) {
		return nil, errors.Errorf("validator %s (%d) already registered", node.Name(), node.ID())
	}

	n.record(node)

	return node, nil
}

// WaitForRegistration polls the anchor until every node is known to it. It
// fails as soon as one of the nodes reports a fault, or when maxTime has
// elapsed.
func (n *Network) WaitForRegistration(nodes []validator.Node, anchor validator.Node, maxTime time.Duration) error {
	n.Lock()
	defer n.Unlock()

	return n.waitForRegistration(nodes, anchor, maxTime)
}

func (n *Network) waitForRegistration(nodes []validator.Node, anchor validator.Node, maxTime time.Duration) error {
	anchorURL := ""
	if anchor != nil {
		anchorURL = anchor.URL()
	}

	unregistered := len(nodes)
	deadline := n.clock.Now().Add(maxTime)

	for unregistered > 0 {
		if n.clock.Now().After(deadline) {
			return NewNetworkErr(RegistrationTimeout,
				fmt.Sprintf("%d nodes failed to register within %v", unregistered, maxTime), nil)
		}

		n.clock.Sleep(n.conf.PollInterval)

		unregistered = 0
		for _, v := range nodes {
			if !v.IsRegistered(anchorURL) {
				unregistered++
			}
			if err := v.CheckError(); err != nil {
				v.DumpLog()
				v.DumpStderr()
				return NewNetworkErr(NodeFault, fmt.Sprintf("%s failed", v.Name()), err)
			}
		}

		n.logger.WithFields(logrus.Fields{
			"anchor":       anchorURL,
			"unregistered": unregistered,
		}).Debug("Waiting for registration")
	}

	return nil
}

// ExpandNetwork launches countPerNode validators against each of the live
// validators, and waits for the new ones to register. Only the new
// validators are returned.
func (n *Network) ExpandNetwork(live []validator.Node, countPerNode int) ([]validator.Node, error) {
	n.Lock()
	defer n.Unlock()

	created := []validator.Node{}
	if len(live) == 0 {
		return created, nil
	}

	var anchor validator.Node
	for _, v := range live {
		p := Phase{LedgerURL: v.URL()}
		for i := 0; i < countPerNode; i++ {
			node, err := n.launchNode(p)
			if err != nil {
				return nil, err
			}
			created = append(created, node)
		}
		anchor = v
	}

	if err := n.waitForRegistration(created, anchor, n.conf.ExpansionTimeout); err != nil {
		return nil, err
	}

	n.logger.WithField("count", len(created)).Info("Network expanded")

	return created, nil
}

// Shutdown asks every running validator to stop, waits for them to do so for
// the configured grace period, and kills the ones still running.
func (n *Network) Shutdown() {
	n.Lock()
	defer n.Unlock()

	nodes := n.nodes.All()
	if len(nodes) == 0 {
		return
	}

	n.logger.WithField("count", len(nodes)).Info("Sending shutdown message to validators")

	for _, v := range nodes {
		if v.IsRunning() {
			if err := v.PostShutdown(); err != nil {
				n.logger.WithError(err).WithField("node", v.Name()).Warn("Shutdown request failed")
			}
		}
	}

	deadline := n.clock.Now().Add(n.conf.ShutdownTimeout)
	for countRunning(nodes) > 0 && !n.clock.Now().After(deadline) {
		n.clock.Sleep(n.conf.PollInterval)
	}

	killed := 0
	for _, v := range nodes {
		if v.IsRunning() {
			killed++
			if err := v.Shutdown(true); err != nil {
				n.logger.WithError(err).WithField("node", v.Name()).Error("Killing validator")
			}
		}
	}

	if killed > 0 {
		n.logger.WithField("count", killed).Warn("Validators did not stop in time and were killed")

		// process death is observed asynchronously on windows
		if n.goos == "windows" {
			n.clock.Sleep(n.conf.ReapDelay)
		}
	}

	for _, v := range nodes {
		n.record(v)
	}
}

func countRunning(nodes []validator.Node) int {
	running := 0
	for _, v := range nodes {
		if v.IsRunning() {
			running++
		}
	}
	return running
}

func (n *Network) record(v validator.Node) {
	if n.manifest == nil {
		return
	}

	cfg := v.Config()

	r := manifest.Record{
		ID:        v.ID(),
		Name:      v.Name(),
		URL:       v.URL(),
		HTTPPort:  cfg.HTTPPort(),
		Port:      cfg.Port(),
		LedgerURL: cfg.LedgerURL(),
		Genesis:   cfg.Bool(validator.KeyGenesisLedger),
		Status:    v.Status().State(),
	}

	if err := n.manifest.Put(r); err != nil {
		n.logger.WithError(err).WithField("node", v.Name()).Warn("Updating manifest")
	}
}

// Nodes returns every validator ever launched, in launch order.
func (n *Network) Nodes() []validator.Node {
	return n.nodes.All()
}

// Validator returns the validator with the given name or numeric id.
func (n *Network) Validator(key string) (validator.Node, bool) {
	return n.nodes.Resolve(key)
}

// Get returns the validator with the given id.
func (n *Network) Get(id int) (validator.Node, bool) {
	return n.nodes.Get(id)
}

// Status returns the status of every validator, in launch order.
func (n *Network) Status() []validator.Status {
	nodes := n.nodes.All()
	res := make([]validator.Status, len(nodes))
	for i, v := range nodes {
		res[i] = v.Status()
	}
	return res
}

// URLs returns the URL of every validator, in launch order.
func (n *Network) URLs() []string {
	nodes := n.nodes.All()
	res := make([]string, len(nodes))
	for i, v := range nodes {
		res[i] = v.URL()
	}
	return res
}

// CreateResultArchive packs the working directory into a tar.gz archive at
// location, which may be an s3:// URL. It returns false, and does nothing,
// if no validator was ever launched or the working directory is gone.
func (n *Network) CreateResultArchive(location string) (bool, error) {
	n.Lock()
	defer n.Unlock()

	if n.nodes.Len() == 0 {
		return false, nil
	}

	ok, err := archive.ExportTo(context.Background(), n.dataDir, location)
	if err != nil {
		return false, err
	}

	if ok {
		n.logger.WithField("archive", location).Info("Result archive created")
	}

	return ok, nil
}

// Close releases the manifest and removes the working directory if it is a
// temporary one. Validators are not stopped; call Shutdown first.
func (n *Network) Close() error {
	n.Lock()
	defer n.Unlock()

	var err error
	if n.manifest != nil {
		err = n.manifest.Close()
		n.manifest = nil
	}

	n.removeTempDir()

	return err
}

func (n *Network) removeTempDir() {
	if !n.tempDir {
		return
	}
	if err := os.RemoveAll(n.dataDir); err != nil {
		n.logger.WithError(err).Warn("Removing working directory")
	}
	n.tempDir = false
}
