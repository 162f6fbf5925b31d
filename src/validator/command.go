package validator

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/valnet/src/identity"
	"github.com/pkg/errors"
)

// ShutdownAction is the action of a shutdown Command.
const ShutdownAction = "shutdown"

// PeerInfo identifies a validator in the peer list of another.
type PeerInfo struct {
	Name string
	URL  string
}

// Command is an administrative command posted to a validator's /command
// endpoint. It is signed by the network's admin key.
type Command struct {
	Action    string
	Admin     string
	PublicKey string
	Nonce     int64
	Signature string
}

// NewCommand creates a Command signed by admin.
func NewCommand(action string, admin *identity.Admin) (*Command, error) {
	cmd := &Command{
		Action:    action,
		Admin:     admin.Address(),
		PublicKey: admin.PublicKeyHex(),
		Nonce:     time.Now().UnixNano(),
	}

	sig, err := admin.Sign(cmd.signingBytes())
	if err != nil {
		return nil, err
	}
	cmd.Signature = sig

	return cmd, nil
}

func (c *Command) signingBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", c.Action, c.Admin, c.Nonce))
}

// Verify checks that the command was signed by the key behind adminAddress.
func (c *Command) Verify(adminAddress string) error {
	if c.Admin != adminAddress {
		return errors.Errorf("command issued by %s, expected %s", c.Admin, adminAddress)
	}

	addr, err := identity.AddressFromPublicKeyHex(c.PublicKey)
	if err != nil {
		return err
	}
	if addr != adminAddress {
		return errors.New("public key does not match admin address")
	}

	ok, err := identity.Verify(c.PublicKey, c.signingBytes(), c.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invalid signature")
	}

	return nil
}
