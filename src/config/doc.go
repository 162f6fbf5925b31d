// Package config defines the configuration of a validator network harness.
//
// Regardless of how the harness is started, directly from Go code or with the
// valnet command, it uses the Config object defined in this package. The
// options fall in three groups:
//
//  - where things live: DataDir, Validator, Archive, AdminKey
//  - how validators are stamped: HTTPPort, UDPPort, Template
//  - how long to wait: PollInterval, RegistrationTimeout, ExpansionTimeout,
//    GenesisTimeout, ShutdownTimeout, ReapDelay
//
// When DataDir is empty, the network runs in a temporary directory that is
// removed when the network is closed.
package config
