package domain

import (
	interfaces "relaychat/internal/domain/interfaces"
	types "relaychat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	ParticipantID  = types.ParticipantID
	Fingerprint    = types.Fingerprint
	Identity       = types.Identity
	Roster         = types.Roster
	Envelope       = types.Envelope
	Bundle         = types.Bundle
	Delivery       = types.Delivery
	Record         = types.Record
	QueueBatch     = types.QueueBatch
	ParamsWire     = types.ParamsWire
	AccountProfile = types.AccountProfile
	Registration   = types.Registration
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Handler         = interfaces.Handler
	HandlerFunc     = interfaces.HandlerFunc
	Transport       = interfaces.Transport
	Directory       = interfaces.Directory
	Mailbox         = interfaces.Mailbox
	IdentityStore   = interfaces.IdentityStore
	AccountStore    = interfaces.AccountStore
	MessageLog      = interfaces.MessageLog
	IdentityService = interfaces.IdentityService
	MessageService  = interfaces.MessageService
)

// Topics and wire helpers re-exported from the types subpackage.
const (
	TopicRegisterKey = types.TopicRegisterKey
	TopicSendMessage = types.TopicSendMessage
	TopicPublicKeys  = types.TopicPublicKeys
)

var (
	UserQueue      = types.UserQueue
	ParseUserQueue = types.ParseUserQueue
	ParseBundle    = types.ParseBundle
	ParseDelivery  = types.ParseDelivery
	ParseRoster    = types.ParseRoster
	ParseParams    = types.ParseParams
	MarshalParams  = types.MarshalParams

	ParseRegistration = types.ParseRegistration

	ErrInvalidParticipantID = types.ErrInvalidParticipantID
)
