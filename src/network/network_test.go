package network

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/mosaicnetworks/valnet/src/archive"
	"github.com/mosaicnetworks/valnet/src/config"
	"github.com/mosaicnetworks/valnet/src/identity"
	"github.com/mosaicnetworks/valnet/src/validator"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const never = time.Duration(-1)

// steppingClock advances virtual time instead of blocking in Sleep.
type steppingClock struct {
	*fakeclock.FakeClock
}

func (c steppingClock) Sleep(d time.Duration) {
	c.Increment(d)
}

func newSteppingClock() steppingClock {
	return steppingClock{fakeclock.NewFakeClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))}
}

type fakeNode struct {
	sync.Mutex

	cfg   validator.Config
	clock steppingClock

	// relative to Start; never disables them
	registerAfter time.Duration
	faultAfter    time.Duration
	// whether the node stops when it receives a shutdown request
	obeysShutdown bool
	startErr      error

	started  bool
	startAt  time.Time
	running  bool
	anchors  []string
	calls    map[string]int
	launched bool
}

func (n *fakeNode) call(name string) {
	n.calls[name]++
}

func (n *fakeNode) ID() int                  { return n.cfg.ID() }
func (n *fakeNode) Name() string             { return n.cfg.Name() }
func (n *fakeNode) URL() string              { return n.cfg.URL() }
func (n *fakeNode) Config() validator.Config { return n.cfg }

func (n *fakeNode) Start(launch bool) error {
	n.Lock()
	defer n.Unlock()
	n.call("Start")
	if n.startErr != nil {
		return n.startErr
	}
	n.started = true
	n.launched = launch
	n.startAt = n.clock.Now()
	n.running = launch
	return nil
}

func (n *fakeNode) IsRunning() bool {
	n.Lock()
	defer n.Unlock()
	n.call("IsRunning")
	return n.running
}

func (n *fakeNode) elapsed(d time.Duration) bool {
	return d >= 0 && !n.clock.Now().Before(n.startAt.Add(d))
}

func (n *fakeNode) IsRegistered(anchorURL string) bool {
	n.Lock()
	defer n.Unlock()
	n.call("IsRegistered")
	n.anchors = append(n.anchors, anchorURL)
	return n.elapsed(n.registerAfter)
}

func (n *fakeNode) CheckError() error {
	n.Lock()
	defer n.Unlock()
	n.call("CheckError")
	if n.elapsed(n.faultAfter) {
		return &validator.FaultError{Name: n.cfg.Name(), Reason: "exited with status 3: ledger corrupted"}
	}
	return nil
}

func (n *fakeNode) DumpLog() {
	n.Lock()
	defer n.Unlock()
	n.call("DumpLog")
}

func (n *fakeNode) DumpStderr() {
	n.Lock()
	defer n.Unlock()
	n.call("DumpStderr")
}

func (n *fakeNode) PostShutdown() error {
	n.Lock()
	defer n.Unlock()
	n.call("PostShutdown")
	if n.obeysShutdown {
		n.running = false
	}
	return nil
}

func (n *fakeNode) Shutdown(force bool) error {
	n.Lock()
	defer n.Unlock()
	if force {
		n.call("Kill")
	} else {
		n.call("Interrupt")
	}
	n.running = false
	return nil
}

func (n *fakeNode) Status() validator.Status {
	n.Lock()
	defer n.Unlock()
	return validator.Status{
		ID:      n.cfg.ID(),
		Name:    n.cfg.Name(),
		URL:     n.cfg.URL(),
		Running: n.running,
		Exited:  n.launched && !n.running,
	}
}

type fakeLauncher struct {
	clock steppingClock
	setup func(n *fakeNode)
	nodes []*fakeNode
}

func (l *fakeLauncher) NewNode(cfg validator.Config, dataDir string, admin *identity.Admin) validator.Node {
	n := &fakeNode{
		cfg:           cfg,
		clock:         l.clock,
		faultAfter:    never,
		obeysShutdown: true,
		calls:         make(map[string]int),
	}
	if l.setup != nil {
		l.setup(n)
	}
	l.nodes = append(l.nodes, n)
	return n
}

func (l *fakeLauncher) calls(name string) int {
	total := 0
	for _, n := range l.nodes {
		total += n.calls[name]
	}
	return total
}

func newTestNetwork(t *testing.T, setup func(n *fakeNode)) (*Network, *fakeLauncher, steppingClock) {
	clk := newSteppingClock()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.DataDir = t.TempDir()
	conf.Clock = clk

	launcher := &fakeLauncher{clock: clk, setup: setup}

	net, err := New(conf, launcher)
	require.NoError(t, err)
	t.Cleanup(func() { net.Close() })

	return net, launcher, clk
}

func TestLaunchNetworkIdentifiers(t *testing.T) {
	net, launcher, _ := newTestNetwork(t, nil)

	nodes, err := net.LaunchNetwork(4)
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	names := make(map[string]bool)
	for i, n := range nodes {
		require.Equal(t, i, n.ID())
		require.Equal(t, fmt.Sprintf("validator-%d", i), n.Name())
		require.Equal(t, config.DefaultHTTPPort+i, n.Config().HTTPPort())
		require.Equal(t, config.DefaultUDPPort+i, n.Config().Port())
		require.Equal(t, net.Admin().Address(), n.Config().String(validator.KeyAdministrationNode))
		require.Equal(t, net.DataDir(), n.Config().String(validator.KeyDataDirectory))
		names[n.Name()] = true
	}
	require.Len(t, names, 4)

	genesis := nodes[0].Config()
	require.Equal(t, validator.NoLedger, genesis.LedgerURL())
	require.True(t, genesis.Bool(validator.KeyGenesisLedger))
	require.False(t, genesis.Bool(validator.KeyRestore))

	for _, n := range nodes[1:] {
		require.Equal(t, nodes[0].URL(), n.Config().LedgerURL())
		require.False(t, n.Config().Bool(validator.KeyGenesisLedger))
	}

	// the template is never stamped
	_, ok := net.template[validator.KeyID]
	require.False(t, ok)
	_, ok = net.template[validator.KeyLedgerURL]
	require.False(t, ok)

	require.Equal(t, 4, launcher.calls("Start"))
	require.Equal(t, net.URLs(), []string{
		"http://localhost:8800",
		"http://localhost:8801",
		"http://localhost:8802",
		"http://localhost:8803",
	})
}

func TestLaunchNetworkInvalidCount(t *testing.T) {
	net, launcher, _ := newTestNetwork(t, nil)

	_, err := net.LaunchNetwork(0)
	require.Error(t, err)
	require.True(t, IsNetwork(err, ConfigurationError))
	require.Empty(t, launcher.nodes)
}

func TestLaunchNetworkTiming(t *testing.T) {
	net, launcher, clk := newTestNetwork(t, func(n *fakeNode) {
		if n.cfg.ID() == 0 {
			n.registerAfter = 2 * time.Second
		} else {
			// launched once the genesis node is registered, at 2s
			n.registerAfter = 5 * time.Second
		}
	})

	start := clk.Now()

	nodes, err := net.LaunchNetwork(3)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	require.Equal(t, 7*time.Second, clk.Since(start))

	genesis := launcher.nodes[0]
	// the genesis node is first polled against itself
	require.Equal(t, []string{"", "", ""}, genesis.anchors[:3])

	// then every node is polled against the last launched one
	for _, n := range launcher.nodes {
		anchors := n.anchors
		if n == genesis {
			anchors = anchors[3:]
		}
		require.Len(t, anchors, 5)
		for _, a := range anchors {
			require.Equal(t, nodes[2].URL(), a)
		}
	}
}

func TestWaitForRegistrationNoNodes(t *testing.T) {
	net, _, clk := newTestNetwork(t, nil)

	start := clk.Now()
	require.NoError(t, net.WaitForRegistration(nil, nil, time.Minute))
	require.Equal(t, time.Duration(0), clk.Since(start))
}

func TestWaitForRegistrationTimeout(t *testing.T) {
	net, _, clk := newTestNetwork(t, func(n *fakeNode) {
		n.registerAfter = never
	})

	node, err := net.LaunchNode(Phase{LedgerURL: validator.NoLedger, GenesisLedger: true})
	require.NoError(t, err)

	start := clk.Now()
	err = net.WaitForRegistration([]validator.Node{node}, node, 5*time.Second)
	require.Error(t, err)
	require.True(t, IsNetwork(err, RegistrationTimeout))
	require.Contains(t, err.Error(), "1 nodes failed to register within 5s")
	require.Equal(t, 6*time.Second, clk.Since(start))
}

func TestWaitForRegistrationAtDeadline(t *testing.T) {
	net, _, _ := newTestNetwork(t, func(n *fakeNode) {
		n.registerAfter = 5 * time.Second
	})

	a, err := net.LaunchNode(Phase{LedgerURL: validator.NoLedger, GenesisLedger: true})
	require.NoError(t, err)
	b, err := net.LaunchNode(Phase{LedgerURL: a.URL()})
	require.NoError(t, err)

	// the last poll before the deadline sees every node registered
	require.NoError(t, net.WaitForRegistration([]validator.Node{a, b}, a, 5*time.Second))
}

func TestGenesisFault(t *testing.T) {
	net, launcher, _ := newTestNetwork(t, func(n *fakeNode) {
		n.registerAfter = never
		n.faultAfter = 0
	})

	nodes, err := net.LaunchNetwork(1)
	require.Error(t, err)
	require.Nil(t, nodes)
	require.True(t, IsNetwork(err, NodeFault))
	require.Contains(t, err.Error(), "ledger corrupted")

	require.Len(t, launcher.nodes, 1)
	require.Equal(t, 1, launcher.nodes[0].calls["DumpLog"])
	require.Equal(t, 1, launcher.nodes[0].calls["DumpStderr"])

	// the failed node is left for the caller to clean up
	require.Len(t, net.Nodes(), 1)
}

func TestGenesisTimeout(t *testing.T) {
	net, _, clk := newTestNetwork(t, func(n *fakeNode) {
		n.registerAfter = never
	})
	net.conf.GenesisTimeout = 3 * time.Second

	start := clk.Now()
	_, err := net.LaunchNetwork(2)
	require.Error(t, err)
	require.True(t, IsNetwork(err, RegistrationTimeout))
	require.Equal(t, 4*time.Second, clk.Since(start))
	require.Len(t, net.Nodes(), 1)
}

func TestPeerFaultDuringRegistration(t *testing.T) {
	net, launcher, _ := newTestNetwork(t, func(n *fakeNode) {
		if n.cfg.ID() == 2 {
			n.registerAfter = never
			n.faultAfter = 3 * time.Second
		}
	})

	_, err := net.LaunchNetwork(3)
	require.Error(t, err)
	require.True(t, IsNetwork(err, NodeFault))
	require.Contains(t, err.Error(), "validator-2")

	require.Equal(t, 1, launcher.calls("DumpLog"))
	require.Equal(t, 1, launcher.nodes[2].calls["DumpLog"])
	require.Equal(t, 1, launcher.nodes[2].calls["DumpStderr"])
}

func TestStartFailure(t *testing.T) {
	net, _, _ := newTestNetwork(t, func(n *fakeNode) {
		if n.cfg.ID() == 1 {
			n.startErr = fmt.Errorf("executable not found")
		}
	})

	_, err := net.LaunchNetwork(3)
	require.Error(t, err)
	require.True(t, IsNetwork(err, NodeFault))
	require.Len(t, net.Nodes(), 1)

	// the id of the failed validator is not reused
	node, err := net.LaunchNode(Phase{LedgerURL: validator.NoLedger})
	require.NoError(t, err)
	require.Equal(t, 2, node.ID())
}

func TestExpandNetwork(t *testing.T) {
	net, launcher, _ := newTestNetwork(t, nil)

	live, err := net.LaunchNetwork(2)
	require.NoError(t, err)

	created, err := net.ExpandNetwork(live, 2)
	require.NoError(t, err)
	require.Len(t, created, 4)

	for i, n := range created {
		require.Equal(t, 2+i, n.ID())
		require.Equal(t, live[i/2].URL(), n.Config().LedgerURL())
		require.False(t, n.Config().Bool(validator.KeyGenesisLedger))
		require.False(t, n.Config().Bool(validator.KeyRestore))
	}

	// new validators are polled against the last live one
	for _, n := range launcher.nodes[2:] {
		require.NotEmpty(t, n.anchors)
		for _, a := range n.anchors {
			require.Equal(t, live[1].URL(), a)
		}
	}

	again, err := net.ExpandNetwork(created[:1], 3)
	require.NoError(t, err)
	require.Len(t, again, 3)

	seen := make(map[int]bool)
	for _, n := range net.Nodes() {
		require.False(t, seen[n.ID()], "id %d reused", n.ID())
		seen[n.ID()] = true
	}
	require.Len(t, seen, 9)

	none, err := net.ExpandNetwork(nil, 3)
	require.NoError(t, err)
	require.Empty(t, none)
	require.Len(t, net.Nodes(), 9)
}

func TestExpandNetworkTimeout(t *testing.T) {
	net, _, clk := newTestNetwork(t, func(n *fakeNode) {
		if n.cfg.ID() > 0 {
			n.registerAfter = never
		}
	})

	live, err := net.LaunchNetwork(1)
	require.NoError(t, err)

	start := clk.Now()
	_, err = net.ExpandNetwork(live, 2)
	require.Error(t, err)
	require.True(t, IsNetwork(err, RegistrationTimeout))
	require.Contains(t, err.Error(), "2 nodes failed to register")
	require.True(t, clk.Since(start) > config.DefaultExpansionTimeout)
}

func TestValidatorLookup(t *testing.T) {
	net, _, _ := newTestNetwork(t, nil)

	_, err := net.LaunchNetwork(3)
	require.NoError(t, err)

	byID, ok := net.Validator("1")
	require.True(t, ok)
	byName, ok := net.Validator("validator-1")
	require.True(t, ok)
	require.True(t, byID == byName)

	typed, ok := net.Get(1)
	require.True(t, ok)
	require.True(t, typed == byID)

	for _, key := range []string{"3", "-1", "validator-9", "one", ""} {
		_, ok := net.Validator(key)
		require.False(t, ok, key)
	}
}

func TestShutdownNoNodes(t *testing.T) {
	net, launcher, clk := newTestNetwork(t, nil)

	start := clk.Now()
	net.Shutdown()

	require.Empty(t, launcher.nodes)
	require.Equal(t, time.Duration(0), clk.Since(start))
}

func TestShutdownEscalation(t *testing.T) {
	stubborn := map[int]bool{1: true, 3: true}

	net, launcher, clk := newTestNetwork(t, func(n *fakeNode) {
		n.obeysShutdown = !stubborn[n.cfg.ID()]
	})

	_, err := net.LaunchNetwork(5)
	require.NoError(t, err)

	start := clk.Now()
	net.Shutdown()
	require.True(t, clk.Since(start) > config.DefaultShutdownTimeout)

	for _, n := range launcher.nodes {
		require.Equal(t, 1, n.calls["PostShutdown"], n.Name())
		if stubborn[n.ID()] {
			require.Equal(t, 1, n.calls["Kill"], n.Name())
		} else {
			require.Equal(t, 0, n.calls["Kill"], n.Name())
		}
		require.False(t, n.running)
	}
	require.Equal(t, 2, launcher.calls("Kill"))

	records, err := net.manifest.Records()
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		require.Equal(t, i, r.ID)
		require.Equal(t, "exited", r.Status)
	}
}

func TestShutdownGraceful(t *testing.T) {
	net, launcher, clk := newTestNetwork(t, nil)

	_, err := net.LaunchNetwork(3)
	require.NoError(t, err)

	start := clk.Now()
	net.Shutdown()
	require.Equal(t, time.Duration(0), clk.Since(start))
	require.Equal(t, 0, launcher.calls("Kill"))
	require.Equal(t, 3, launcher.calls("PostShutdown"))

	// stopped validators are not asked again
	net.Shutdown()
	require.Equal(t, 3, launcher.calls("PostShutdown"))
}

func shutdownElapsed(t *testing.T, goos string, stubborn bool) time.Duration {
	net, _, clk := newTestNetwork(t, func(n *fakeNode) {
		n.obeysShutdown = !(stubborn && n.cfg.ID() == 1)
	})
	net.goos = goos

	_, err := net.LaunchNetwork(3)
	require.NoError(t, err)

	start := clk.Now()
	net.Shutdown()
	return clk.Since(start)
}

func TestShutdownReapDelay(t *testing.T) {
	linux := shutdownElapsed(t, "linux", true)
	windows := shutdownElapsed(t, "windows", true)
	require.True(t, linux > config.DefaultShutdownTimeout)
	require.Equal(t, linux+config.DefaultReapDelay, windows)

	// nothing was killed, so there is nothing to reap
	require.Equal(t, time.Duration(0), shutdownElapsed(t, "windows", false))
}

func TestManifestClearedOnReuse(t *testing.T) {
	clk := newSteppingClock()
	dataDir := t.TempDir()

	open := func() (*Network, *fakeLauncher) {
		conf := config.NewTestConfig(t, logrus.DebugLevel)
		conf.DataDir = dataDir
		conf.Clock = clk

		launcher := &fakeLauncher{clock: clk}
		net, err := New(conf, launcher)
		require.NoError(t, err)
		return net, launcher
	}

	first, _ := open()
	_, err := first.LaunchNetwork(3)
	require.NoError(t, err)
	first.Shutdown()
	first.Close()

	second, _ := open()
	defer second.Close()

	records, err := second.manifest.Records()
	require.NoError(t, err)
	require.Empty(t, records)

	_, err = second.LaunchNetwork(1)
	require.NoError(t, err)

	records, err = second.manifest.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 0, records[0].ID)
}

func TestManualLaunch(t *testing.T) {
	clk := newSteppingClock()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.DataDir = t.TempDir()
	conf.Clock = clk
	conf.ManualLaunch = true

	launcher := &fakeLauncher{clock: clk}

	net, err := New(conf, launcher)
	require.NoError(t, err)
	defer net.Close()

	node, err := net.LaunchNode(Phase{LedgerURL: validator.NoLedger, GenesisLedger: true})
	require.NoError(t, err)
	require.False(t, node.IsRunning())
	require.False(t, launcher.nodes[0].launched)
	require.Equal(t, "stopped", net.Status()[0].State())
}

func TestMissingArchive(t *testing.T) {
	clk := newSteppingClock()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.DataDir = t.TempDir()
	conf.Clock = clk
	conf.Archive = filepath.Join(conf.DataDir, "missing.tar.gz")

	launcher := &fakeLauncher{clock: clk}

	_, err := New(conf, launcher)
	require.Error(t, err)
	require.True(t, IsNetwork(err, ConfigurationError))
	require.Empty(t, launcher.nodes)
}

func TestRestoreArchive(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(src, "validator-0.cb"), []byte("blocks"), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(src, "validator-0.log"), []byte("log"), 0600))

	arch := filepath.Join(t.TempDir(), "previous.tar.gz")
	ok, err := archive.Export(src, arch)
	require.NoError(t, err)
	require.True(t, ok)

	clk := newSteppingClock()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.DataDir = t.TempDir()
	conf.Clock = clk
	conf.Archive = arch

	launcher := &fakeLauncher{clock: clk}

	net, err := New(conf, launcher)
	require.NoError(t, err)
	defer net.Close()

	require.True(t, net.Restored())

	data, err := ioutil.ReadFile(filepath.Join(net.DataDir(), "validator-0.cb"))
	require.NoError(t, err)
	require.Equal(t, "blocks", string(data))

	_, err = os.Stat(filepath.Join(net.DataDir(), "validator-0.log"))
	require.True(t, os.IsNotExist(err))

	nodes, err := net.LaunchNetwork(2)
	require.NoError(t, err)
	require.True(t, nodes[0].Config().Bool(validator.KeyRestore))
	require.False(t, nodes[1].Config().Bool(validator.KeyRestore))
}

func TestCreateResultArchive(t *testing.T) {
	net, _, _ := newTestNetwork(t, nil)

	out := filepath.Join(t.TempDir(), "result.tar.gz")

	ok, err := net.CreateResultArchive(out)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err))

	_, err = net.LaunchNetwork(1)
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(filepath.Join(net.DataDir(), "validator-0.cb"), []byte("blocks"), 0600))

	ok, err = net.CreateResultArchive(out)
	require.NoError(t, err)
	require.True(t, ok)

	dst := t.TempDir()
	require.NoError(t, archive.Import(out, dst, net.logger))

	data, err := ioutil.ReadFile(filepath.Join(dst, "validator-0.cb"))
	require.NoError(t, err)
	require.Equal(t, "blocks", string(data))
}

func TestTemporaryDataDir(t *testing.T) {
	clk := newSteppingClock()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.Clock = clk

	net, err := New(conf, &fakeLauncher{clock: clk})
	require.NoError(t, err)

	dir := net.DataDir()
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	require.NoError(t, net.Close())

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestAdminKeyfile(t *testing.T) {
	admin, err := identity.Generate()
	require.NoError(t, err)

	keyfile := filepath.Join(t.TempDir(), identity.DefaultKeyfile)
	require.NoError(t, identity.NewWIFKeyfile(keyfile).WriteAdmin(admin))

	clk := newSteppingClock()

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.DataDir = t.TempDir()
	conf.Clock = clk
	conf.AdminKey = keyfile

	net, err := New(conf, &fakeLauncher{clock: clk})
	require.NoError(t, err)
	defer net.Close()

	require.Equal(t, admin.Address(), net.Admin().Address())

	conf.AdminKey = filepath.Join(t.TempDir(), "missing.wif")
	conf.DataDir = t.TempDir()
	_, err = New(conf, &fakeLauncher{clock: clk})
	require.True(t, IsNetwork(err, ConfigurationError))
}
