// Package session ties one participant's state together: pinned domain
// parameters, the identity key pair, the roster cache, the message service
// and the subscriptions that feed them.
//
// A Session is an explicit object passed to whoever needs it. Start performs
// the join sequence (parameters, identity, registration, roster,
// subscriptions); Send and Receive go through the message service; Events
// streams what happened, including every dropped delivery and failed send.
// Reset handles a change of domain parameters by replacing the identity.
package session
