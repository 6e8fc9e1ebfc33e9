// Package app wires application dependencies for the CLI.
//
// Config is read from <home>/config.toml and then overridden by command-line
// flags. NewWire builds the concrete stores, the relay client and the
// services from it, and NewSession assembles a session.Session for a
// command to run.
package app
