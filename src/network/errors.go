package network

import "fmt"

// NetworkErrType ...
type NetworkErrType uint32

const (
	// ConfigurationError is raised before any validator is launched, when the
	// network cannot be set up as configured.
	ConfigurationError NetworkErrType = iota
	// NodeFault is raised when a validator crashed or failed to start.
	NodeFault
	// RegistrationTimeout is raised when validators did not register in time.
	RegistrationTimeout
)

// String ...
func (t NetworkErrType) String() string {
	switch t {
	case ConfigurationError:
		return "Configuration Error"
	case NodeFault:
		return "Node Fault"
	case RegistrationTimeout:
		return "Registration Timeout"
	}
	return "Unknown"
}

// NetworkErr ...
type NetworkErr struct {
	errType NetworkErrType
	msg     string
	cause   error
}

// NewNetworkErr ...
func NewNetworkErr(errType NetworkErrType, msg string, cause error) NetworkErr {
	return NetworkErr{
		errType: errType,
		msg:     msg,
		cause:   cause,
	}
}

// Error ...
func (e NetworkErr) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s, %s", e.errType, e.msg)
	}
	return fmt.Sprintf("%s, %s: %v", e.errType, e.msg, e.cause)
}

// Cause returns the underlying error, if any.
func (e NetworkErr) Cause() error {
	return e.cause
}

// Type ...
func (e NetworkErr) Type() NetworkErrType {
	return e.errType
}

// IsNetwork checks that an error is of type NetworkErr, possibly wrapped with
// errors.Wrap, and that its type matches the provided one.
func IsNetwork(err error, t NetworkErrType) bool {
	for err != nil {
		if netErr, ok := err.(NetworkErr); ok {
			return netErr.errType == t
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}
