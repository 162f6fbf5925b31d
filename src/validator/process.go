package validator

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/valnet/src/identity"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultHTTPTimeout bounds every request sent to a validator.
const DefaultHTTPTimeout = 2 * time.Second

// ProcessLauncher creates validators running as child processes of the
// harness.
type ProcessLauncher struct {
	Executable string
	Args       []string
	Logger     *logrus.Entry
	// Diagnostics receives the output of DumpLog and DumpStderr. Defaults to
	// os.Stderr.
	Diagnostics io.Writer
}

// NewNode implements the Launcher interface.
func (l *ProcessLauncher) NewNode(cfg Config, dataDir string, admin *identity.Admin) Node {
	return NewProcess(l.Executable, l.Args, cfg, dataDir, admin, l.Diagnostics, l.Logger)
}

// Process is a Node backed by an os/exec child process. The process is reaped
// by a dedicated goroutine; its exit state is guarded by the embedded mutex.
type Process struct {
	sync.Mutex

	executable  string
	extraArgs   []string
	config      Config
	dataDir     string
	admin       *identity.Admin
	client      *http.Client
	diagnostics io.Writer
	logger      *logrus.Entry

	cmd               *exec.Cmd
	exited            bool
	exitErr           error
	shutdownRequested bool
	done              chan struct{}
}

// NewProcess creates a Process. Nothing is started until Start is called.
func NewProcess(executable string,
	args []string,
	cfg Config,
	dataDir string,
	admin *identity.Admin,
	diagnostics io.Writer,
	logger *logrus.Entry) *Process {

	if diagnostics == nil {
		diagnostics = os.Stderr
	}

	return &Process{
		executable:  executable,
		extraArgs:   args,
		config:      cfg,
		dataDir:     dataDir,
		admin:       admin,
		client:      &http.Client{Timeout: DefaultHTTPTimeout},
		diagnostics: diagnostics,
		logger:      logger.WithField("node", cfg.Name()),
		done:        make(chan struct{}),
	}
}

// ID implements the Node interface.
func (p *Process) ID() int { return p.config.ID() }

// Name implements the Node interface.
func (p *Process) Name() string { return p.config.Name() }

// URL implements the Node interface.
func (p *Process) URL() string { return p.config.URL() }

// Config implements the Node interface.
func (p *Process) Config() Config { return p.config }

// ConfigFile is the path of the validator's configuration file.
func (p *Process) ConfigFile() string {
	return filepath.Join(p.dataDir, p.Name()+".json")
}

// LogFile is the path of the file receiving the validator's stdout.
func (p *Process) LogFile() string {
	return filepath.Join(p.dataDir, p.Name()+".log")
}

// ErrFile is the path of the file receiving the validator's stderr.
func (p *Process) ErrFile() string {
	return filepath.Join(p.dataDir, p.Name()+".err")
}

// Args returns the command line arguments of the validator.
func (p *Process) Args() []string {
	return append([]string{"--config", p.ConfigFile()}, p.extraArgs...)
}

// Start implements the Node interface. When launch is false, only the
// configuration is written and the command line is logged, so that the
// validator can be started by hand, under a debugger for example.
func (p *Process) Start(launch bool) error {
	data, err := p.config.Encode()
	if err != nil {
		return errors.Wrap(err, "encoding validator config")
	}

	if err := ioutil.WriteFile(p.ConfigFile(), data, 0644); err != nil {
		return err
	}

	if !launch {
		p.logger.WithField("cmd", p.executable+" "+strings.Join(p.Args(), " ")).
			Info("Validator not launched, start it manually")
		return nil
	}

	out, err := os.OpenFile(p.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	errOut, err := os.OpenFile(p.ErrFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		out.Close()
		return err
	}

	cmd := exec.Command(p.executable, p.Args()...)
	cmd.Dir = p.dataDir
	cmd.Stdout = out
	cmd.Stderr = errOut
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		out.Close()
		errOut.Close()
		return errors.Wrapf(err, "starting %s", p.Name())
	}

	p.Lock()
	p.cmd = cmd
	p.Unlock()

	p.logger.WithFields(logrus.Fields{
		"pid": cmd.Process.Pid,
		"url": p.URL(),
	}).Debug("Validator started")

	go func() {
		err := cmd.Wait()

		out.Close()
		errOut.Close()

		p.Lock()
		p.exited = true
		p.exitErr = err
		p.Unlock()

		p.logger.WithError(err).Debug("Validator terminated")

		close(p.done)
	}()

	return nil
}

// Done returns a channel closed when the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning implements the Node interface.
func (p *Process) IsRunning() bool {
	p.Lock()
	defer p.Unlock()
	return p.cmd != nil && !p.exited
}

// IsRegistered implements the Node interface.
func (p *Process) IsRegistered(anchorURL string) bool {
	if anchorURL == "" {
		anchorURL = p.URL()
	}

	peers, err := FetchPeers(p.client, anchorURL)
	if err != nil {
		p.logger.WithError(err).Debug("Fetching peers")
		return false
	}

	for _, peer := range peers {
		if peer.Name == p.Name() {
			return true
		}
	}
	return false
}

// CheckError implements the Node interface. A process that exits after a
// shutdown request, even killed, is not at fault.
func (p *Process) CheckError() error {
	p.Lock()
	defer p.Unlock()

	if !p.exited || p.shutdownRequested {
		return nil
	}

	if p.exitErr != nil {
		return &FaultError{Name: p.Name(), Reason: fmt.Sprintf("has exited: %v", p.exitErr)}
	}

	return &FaultError{Name: p.Name(), Reason: "has exited unexpectedly"}
}

// DumpLog implements the Node interface.
func (p *Process) DumpLog() {
	p.dump("log", p.LogFile())
}

// DumpStderr implements the Node interface.
func (p *Process) DumpStderr() {
	p.dump("stderr", p.ErrFile())
}

func (p *Process) dump(kind, path string) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		p.logger.WithError(err).Warnf("Cannot dump %s", kind)
		return
	}

	fmt.Fprintf(p.diagnostics, "==== %s %s ====\n", p.Name(), kind)
	p.diagnostics.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(p.diagnostics)
	}
}

// PostShutdown implements the Node interface.
func (p *Process) PostShutdown() error {
	p.Lock()
	p.shutdownRequested = true
	p.Unlock()

	cmd, err := NewCommand(ShutdownAction, p.admin)
	if err != nil {
		return err
	}

	return PostCommand(p.client, p.URL(), cmd)
}

// Shutdown implements the Node interface.
func (p *Process) Shutdown(force bool) error {
	p.Lock()
	defer p.Unlock()

	if p.cmd == nil || p.exited {
		return nil
	}

	p.shutdownRequested = true

	if force {
		p.logger.Debug("Killing validator")
		return p.cmd.Process.Kill()
	}

	return interrupt(p.cmd.Process)
}

// Status implements the Node interface.
func (p *Process) Status() Status {
	p.Lock()
	defer p.Unlock()

	s := Status{
		ID:                p.ID(),
		Name:              p.Name(),
		URL:               p.URL(),
		HTTPPort:          p.config.HTTPPort(),
		Port:              p.config.Port(),
		Running:           p.cmd != nil && !p.exited,
		Exited:            p.exited,
		ShutdownRequested: p.shutdownRequested,
	}
	if p.exitErr != nil {
		s.ExitError = p.exitErr.Error()
	}
	return s
}

// FetchPeers returns the peer list of the validator at url.
func FetchPeers(client *http.Client, url string) ([]PeerInfo, error) {
	resp, err := client.Get(strings.TrimSuffix(url, "/") + "/peers")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GET /peers: %s", resp.Status)
	}

	peers := []PeerInfo{}
	if err := Unmarshal(body, &peers); err != nil {
		return nil, errors.Wrap(err, "decoding peers")
	}
	return peers, nil
}

// PostCommand sends an administrative command to the validator at url.
func PostCommand(client *http.Client, url string, cmd *Command) error {
	return postJSON(client, strings.TrimSuffix(url, "/")+"/command", cmd)
}

// Register announces peer to the validator at url.
func Register(client *http.Client, url string, peer PeerInfo) error {
	return postJSON(client, strings.TrimSuffix(url, "/")+"/register", peer)
}

func postJSON(client *http.Client, url string, v interface{}) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := ioutil.ReadAll(resp.Body)
		return errors.Errorf("POST %s: %s %s", url, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
