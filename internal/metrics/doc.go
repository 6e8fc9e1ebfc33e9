// Package metrics holds the prometheus collectors of the client and the
// relay, and serves them over HTTP.
package metrics
