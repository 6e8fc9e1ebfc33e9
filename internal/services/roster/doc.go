// Package roster caches the directory's domain parameters and the current
// participant-to-public-key roster.
//
// Parameters are fetched once and then pinned: later refreshes never change
// them. Reset refetches them explicitly, which invalidates every key pair
// generated under the old group. Rosters are replaced wholesale, never
// merged, and readers always see a complete Snapshot.
//
// The cache fails closed. Until parameters and a roster have been loaded, or
// after the last refresh failed, SendSnapshot returns an error rather than
// stale data.
package roster
