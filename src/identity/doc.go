// Package identity implements the administrative identity of a validator
// network.
//
// A network is administered by a single secp256k1 key-pair. The private key
// signs administrative commands, like shutdown requests, and the derived
// pay-to-pubkey-hash address is written into every validator's configuration
// under AdministrationNode, so that validators only accept commands signed by
// that key. The key can be persisted in Wallet Import Format (WIF), which is
// also the format used for wallet keys inside ledger archives.
package identity
