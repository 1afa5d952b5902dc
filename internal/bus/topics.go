// ABOUTME: Topic name construction for the realtime bus
// ABOUTME: Topics scope fan-out to one request, the open-request feed, or one conversation

package bus

import (
	"strings"

	"github.com/mart-code/first-aid-app/internal/store"
)

// OpenRequestsTopic carries every request snapshot that is (or just stopped
// being) visible to responders browsing the open queue.
const OpenRequestsTopic = "requests:open"

// RequestTopic returns the topic carrying state changes of a single request.
func RequestTopic(requestID string) string {
	return "request:" + requestID
}

// ConversationTopic returns the topic carrying messages between two
// participants. It is symmetric in its arguments.
func ConversationTopic(a, b string) string {
	return "conversation:" + store.PairKey(a, b)
}

// ParseRequestTopic extracts the request id from a request topic.
func ParseRequestTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, "request:")
	return id, ok && id != ""
}

// ParseConversationTopic extracts the conversation key from a conversation
// topic.
func ParseConversationTopic(topic string) (string, bool) {
	key, ok := strings.CutPrefix(topic, "conversation:")
	return key, ok && key != ""
}
