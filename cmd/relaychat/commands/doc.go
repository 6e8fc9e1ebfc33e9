// Package commands implements the relaychat command line: identity setup,
// registration, sending and receiving through a relay, a long-running
// listener and an in-process demo.
package commands
