package types

// AccountProfile records the participant id a relay assigned to us, and the
// group the registered key belongs to.
type AccountProfile struct {
	ServerURL         string        `json:"server_url"`
	ParticipantID     ParticipantID `json:"participant_id"`
	ParamsFingerprint string        `json:"params_fingerprint"`
}
