// Package main runs the relaychat relay. It pins one Diffie-Hellman group,
// keeps the roster of registered public keys and queues encrypted deliveries
// until their recipients fetch them.
//
// HTTP API
//
//	GET /params
//	    The served group as {"p": hex, "g": hex}.
//
//	POST /app/registerKey {"participantId", "publicKey"}
//	    Register or replace a public key. An empty id is assigned a uuid.
//
//	GET /topic/publicKeys
//	    The roster as {id: base64 key}. X-Roster-Version carries a counter
//	    that changes with every registration.
//
//	POST /app/sendMessage {"senderId", "recipients": [...]}
//	    Queue one delivery per recipient. Unknown recipients are skipped.
//
//	GET /user/{id}/queue/messages?limit=N
//	    Up to N queued deliveries, oldest first. X-Queue-First-Seq numbers
//	    the first one; the rest follow consecutively.
//
//	POST /user/{id}/queue/messages/ack {"upTo": N}
//	    Drop the queued deliveries numbered N or lower. Deliveries queued
//	    after the fetch survive even when older ones expired meanwhile.
//
// All state is held in memory. The relay never sees plaintext or private
// keys.
package main
