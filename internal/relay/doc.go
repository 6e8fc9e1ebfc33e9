// Package relay is the store-and-forward side of relaychat and the HTTP
// client that talks to it.
//
// The Hub holds the domain parameters, the roster of registered public keys
// and one delivery queue per participant. NewServer exposes it over HTTP:
//
//   - GET  /params returns the group as bare hex.
//   - POST /app/registerKey records a public key, assigning an id when none
//     is given.
//   - GET  /topic/publicKeys returns the roster and its version in the
//     X-Roster-Version header.
//   - POST /app/sendMessage splits a bundle into per-recipient deliveries and
//     queues them together. Recipients that never registered are skipped.
//   - GET  /user/{id}/queue/messages returns queued deliveries, oldest first.
//   - POST /user/{id}/queue/messages/ack removes deliveries by sequence number.
//
// Client implements domain.Directory, domain.Transport and domain.Mailbox
// against that API. Subscriptions poll on a clockwork ticker. Non-2xx
// statuses are returned wrapped in ErrUnexpectedStatus with the method, path
// and status text.
//
// The relay only ever sees ciphertext and public values.
package relay
