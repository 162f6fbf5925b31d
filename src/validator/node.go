package validator

import (
	"fmt"

	"github.com/mosaicnetworks/valnet/src/identity"
)

// Node is a handle on a validator process. State is observed by polling; none
// of the methods block beyond a single HTTP round-trip.
type Node interface {
	// ID is the numeric id of the validator, unique within a network.
	ID() int

	// Name is the generated name of the validator.
	Name() string

	// URL is the base URL of the validator's HTTP API.
	URL() string

	// Config returns the configuration the validator was started with.
	Config() Config

	// Start writes the validator configuration and, if launch is true, starts
	// the process.
	Start(launch bool) error

	// IsRunning reports whether the process is alive.
	IsRunning() bool

	// IsRegistered reports whether the validator is known to the validator at
	// anchorURL. An empty anchorURL queries the validator itself.
	IsRegistered(anchorURL string) bool

	// CheckError returns a *FaultError if the process terminated abnormally.
	CheckError() error

	// DumpLog writes the validator's output log to the diagnostic output.
	DumpLog()

	// DumpStderr writes the validator's error log to the diagnostic output.
	DumpStderr()

	// PostShutdown asks the validator to stop, over its HTTP API.
	PostShutdown() error

	// Shutdown stops the process with an interrupt, or kills it if force is
	// set.
	Shutdown(force bool) error

	// Status returns a snapshot of the validator's state.
	Status() Status
}

// Launcher creates the Node handles of a network.
type Launcher interface {
	NewNode(cfg Config, dataDir string, admin *identity.Admin) Node
}

// Status is a snapshot of the state of a validator.
type Status struct {
	ID                int
	Name              string
	URL               string
	HTTPPort          int
	Port              int
	Running           bool
	Exited            bool
	ShutdownRequested bool
	ExitError         string
}

// State summarises the status in one word: running, failed, exited or
// stopped.
func (s Status) State() string {
	switch {
	case s.Running:
		return "running"
	case s.Exited && s.ExitError != "":
		return "failed"
	case s.Exited:
		return "exited"
	}
	return "stopped"
}

// String implements the Stringer interface.
func (s Status) String() string {
	state := s.State()
	if state == "failed" {
		state = fmt.Sprintf("failed (%s)", s.ExitError)
	}
	return fmt.Sprintf("%s %s %s", s.Name, s.URL, state)
}

// FaultError is returned by CheckError when a validator process crashed or
// stopped without being asked to.
type FaultError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("%s %s", e.Name, e.Reason)
}
