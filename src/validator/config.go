package validator

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"reflect"

	"github.com/ugorji/go/codec"
)

// Configuration keys read or written by the harness. All other keys are passed
// through to the validator untouched.
const (
	KeyID                 = "id"
	KeyName               = "NodeName"
	KeyHTTPPort           = "HttpPort"
	KeyPort               = "Port"
	KeyHost               = "Host"
	KeyDataDirectory      = "DataDirectory"
	KeyAdministrationNode = "AdministrationNode"
	KeyLedgerURL          = "LedgerURL"
	KeyGenesisLedger      = "GenesisLedger"
	KeyRestore            = "Restore"
)

// NoLedger is the LedgerURL of a validator that originates the ledger.
const NoLedger = "**none**"

// Config is the configuration of a single validator.
type Config map[string]interface{}

// NodeName returns the name given to the validator with the given id.
func NodeName(id int) string {
	return fmt.Sprintf("validator-%d", id)
}

// Clone returns a shallow copy of the configuration.
func (c Config) Clone() Config {
	res := make(Config, len(c))
	for k, v := range c {
		res[k] = v
	}
	return res
}

// ID is the numeric id of the validator.
func (c Config) ID() int { return c.Int(KeyID) }

// Name is the generated name of the validator.
func (c Config) Name() string { return c.String(KeyName) }

// HTTPPort is the port of the validator's HTTP API.
func (c Config) HTTPPort() int { return c.Int(KeyHTTPPort) }

// Port is the gossip port of the validator.
func (c Config) Port() int { return c.Int(KeyPort) }

// LedgerURL is the URL of the validator this one joins, or NoLedger.
func (c Config) LedgerURL() string { return c.String(KeyLedgerURL) }

// Host returns the host the validator is reachable on, localhost by default.
func (c Config) Host() string {
	if h := c.String(KeyHost); h != "" {
		return h
	}
	return "localhost"
}

// URL is the base URL of the validator's HTTP API.
func (c Config) URL() string {
	return fmt.Sprintf("http://%s:%d", c.Host(), c.HTTPPort())
}

// String returns the string value of key, or "" if it is not a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the boolean value of key, or false.
func (c Config) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Int returns the integer value of key, accepting any numeric type produced
// by Go code or by decoding, or 0.
func (c Config) Int(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	jh.SignedInteger = true
	jh.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return jh
}

// Encode returns the canonical JSON encoding of the configuration. Keys are
// sorted so that identical configurations produce identical files.
func (c Config) Encode() ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, jsonHandle())
	if err := enc.Encode(map[string]interface{}(c)); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DecodeConfig parses a configuration produced by Encode.
func DecodeConfig(data []byte) (Config, error) {
	c := Config{}
	dec := codec.NewDecoderBytes(data, jsonHandle())
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadConfig reads a configuration file.
func ReadConfig(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeConfig(data)
}

// Marshal encodes any value with the canonical JSON handle used for
// configurations and API payloads.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := codec.NewEncoder(&b, jsonHandle()).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, jsonHandle()).Decode(v)
}
