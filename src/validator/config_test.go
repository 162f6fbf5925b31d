package validator

import (
	"testing"

	"github.com/mosaicnetworks/valnet/src/identity"
	"github.com/stretchr/testify/require"
)

func TestConfigEncodeDecode(t *testing.T) {
	cfg := Config{
		KeyID:            3,
		KeyName:          NodeName(3),
		KeyHTTPPort:      8803,
		KeyPort:          8903,
		KeyLedgerURL:     "http://localhost:8800",
		KeyGenesisLedger: false,
		"InitialWaitTime": 25.0,
		"TransactionFamilies": []interface{}{
			"ledger.transaction.integer_key",
		},
	}

	data, err := cfg.Encode()
	require.NoError(t, err)

	again, err := cfg.Encode()
	require.NoError(t, err)
	require.Equal(t, data, again, "encoding should be deterministic")

	decoded, err := DecodeConfig(data)
	require.NoError(t, err)

	require.Equal(t, 3, decoded.ID())
	require.Equal(t, "validator-3", decoded.Name())
	require.Equal(t, 8803, decoded.HTTPPort())
	require.Equal(t, 8903, decoded.Port())
	require.Equal(t, "http://localhost:8800", decoded.LedgerURL())
	require.False(t, decoded.Bool(KeyGenesisLedger))
	require.Equal(t, "http://localhost:8803", decoded.URL())
}

func TestConfigClone(t *testing.T) {
	cfg := Config{KeyLedgerURL: NoLedger}

	clone := cfg.Clone()
	clone[KeyLedgerURL] = "http://localhost:8800"

	require.Equal(t, NoLedger, cfg.LedgerURL())
}

func TestCommandVerify(t *testing.T) {
	admin, err := identity.Generate()
	require.NoError(t, err)

	cmd, err := NewCommand(ShutdownAction, admin)
	require.NoError(t, err)
	require.NoError(t, cmd.Verify(admin.Address()))

	other, _ := identity.Generate()
	require.Error(t, cmd.Verify(other.Address()))

	tampered := *cmd
	tampered.Nonce++
	require.Error(t, tampered.Verify(admin.Address()))

	// a valid signature by a key that is not the admin's
	forged, _ := NewCommand(ShutdownAction, other)
	forged.Admin = admin.Address()
	require.Error(t, forged.Verify(admin.Address()))
}

func TestStatusString(t *testing.T) {
	s := Status{Name: "validator-0", URL: "http://localhost:8800", Running: true}
	require.Equal(t, "validator-0 http://localhost:8800 running", s.String())

	s = Status{Name: "validator-1", URL: "http://localhost:8801", Exited: true, ExitError: "exit status 3"}
	require.Equal(t, "validator-1 http://localhost:8801 failed (exit status 3)", s.String())
}
