package identity

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// DefaultKeyfile is the default name of the file holding the admin key.
const DefaultKeyfile = "admin.wif"

// WIFKeyfile reads and writes an admin key, in Wallet Import Format, from/to a
// file that is only accessible to its owner.
type WIFKeyfile struct {
	l       sync.Mutex
	keyfile string
}

// NewWIFKeyfile instantiates a new WIFKeyfile with an underlying file.
func NewWIFKeyfile(keyfile string) *WIFKeyfile {
	return &WIFKeyfile{
		keyfile: keyfile,
	}
}

// CheckFileInfo verifies that the file exists and has user permissions only.
func (k *WIFKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	perm := info.Mode().Perm()

	// permissions for 'groups' and 'others'
	var nonUserMask os.FileMode = (1 << 6) - 1

	if perm&nonUserMask != 0 {
		return fmt.Errorf("%s permissions should exclude 'groups' and 'others'. Got %o", filepath.Base(k.keyfile), perm)
	}

	return nil
}

// ReadAdmin loads the Admin identity stored in the file.
func (k *WIFKeyfile) ReadAdmin() (*Admin, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	wif, err := btcutil.DecodeWIF(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", k.keyfile)
	}

	return FromKey(wif.PrivKey)
}

// WriteAdmin writes the Admin signing key to the file. It refuses to
// overwrite an existing key.
func (k *WIFKeyfile) WriteAdmin(admin *Admin) error {
	k.l.Lock()
	defer k.l.Unlock()

	if _, err := os.Stat(k.keyfile); err == nil {
		return fmt.Errorf("a key already lives under: %s", k.keyfile)
	}

	wif, err := admin.WIF()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(k.keyfile, []byte(wif), 0600)
}
