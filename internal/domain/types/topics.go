package types

import "strings"

// Transport destinations. They mirror the relay's HTTP paths.
const (
	TopicRegisterKey = "/app/registerKey"
	TopicSendMessage = "/app/sendMessage"
	TopicPublicKeys  = "/topic/publicKeys"
)

// UserQueue is the destination on which id receives its deliveries.
func UserQueue(id ParticipantID) string {
	return "/user/" + string(id) + "/queue/messages"
}

// ParseUserQueue returns the participant a UserQueue destination belongs to.
func ParseUserQueue(topic string) (ParticipantID, bool) {
	const prefix, suffix = "/user/", "/queue/messages"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return "", false
	}
	id := topic[len(prefix) : len(topic)-len(suffix)]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return ParticipantID(id), true
}
