package identity

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// Params are the address and WIF encoding parameters used for admin keys.
var Params = &chaincfg.MainNetParams

// Admin is the administrative identity of a network. It is immutable once
// created.
type Admin struct {
	signingKey *btcec.PrivateKey
	address    string
}

// Generate creates an Admin with a new random signing key.
func Generate() (*Admin, error) {
	key, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, errors.Wrap(err, "generating admin key")
	}

	return FromKey(key)
}

// FromKey creates an Admin from an existing private key and derives its
// address.
func FromKey(key *btcec.PrivateKey) (*Admin, error) {
	if key == nil {
		return nil, errors.New("nil admin key")
	}

	pkHash := btcutil.Hash160(key.PubKey().SerializeCompressed())

	addr, err := btcutil.NewAddressPubKeyHash(pkHash, Params)
	if err != nil {
		return nil, errors.Wrap(err, "deriving admin address")
	}

	return &Admin{
		signingKey: key,
		address:    addr.EncodeAddress(),
	}, nil
}

// Address returns the address derived from the admin public key.
func (a *Admin) Address() string {
	return a.address
}

// PublicKeyHex returns the compressed public key in hexadecimal.
func (a *Admin) PublicKeyHex() string {
	return hex.EncodeToString(a.signingKey.PubKey().SerializeCompressed())
}

// WIF returns the signing key in Wallet Import Format.
func (a *Admin) WIF() (string, error) {
	wif, err := btcutil.NewWIF(a.signingKey, Params, true)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

// Sign signs the double-SHA256 of msg and returns the DER encoded signature in
// hexadecimal.
func (a *Admin) Sign(msg []byte) (string, error) {
	sig, err := a.signingKey.Sign(chainhash.DoubleHashB(msg))
	if err != nil {
		return "", errors.Wrap(err, "signing")
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a signature produced by Sign against the hex encoded
// compressed public key.
func Verify(pubKeyHex string, msg []byte, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, err
	}

	pub, err := btcec.ParsePubKey(pubBytes, btcec.S256())
	if err != nil {
		return false, err
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}

	sig, err := btcec.ParseDERSignature(sigBytes, btcec.S256())
	if err != nil {
		return false, err
	}

	return sig.Verify(chainhash.DoubleHashB(msg), pub), nil
}

// AddressFromPublicKeyHex derives the address of a hex encoded public key.
func AddressFromPublicKeyHex(pubKeyHex string) (string, error) {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", err
	}

	pub, err := btcec.ParsePubKey(pubBytes, btcec.S256())
	if err != nil {
		return "", err
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), Params)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}
