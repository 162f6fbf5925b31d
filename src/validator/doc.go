// Package validator supervises validator processes.
//
// Each validator is an independent process, started from an executable with a
// configuration file written in its working directory. The Node interface is
// the contract the network orchestrator relies on: it exposes the state of the
// process (running, registered, failed) through polling only, and the ways to
// stop it, gracefully with a signed shutdown command sent over HTTP, or
// forcibly.
//
// A validator serves a small HTTP API:
//
//  GET  /peers    // JSON list of the validators it knows, [{"Name":..., "URL":...}]
//  POST /register // announce a validator, body {"Name":..., "URL":...}
//  POST /command  // administrative command signed by the admin key
//
// Package dummy implements a validator speaking that API, which is useful to
// exercise the harness without a real ledger.
package validator
