// ABOUTME: Inbound channel activity and the conversation identity derived from it
// ABOUTME: The raw payload is kept verbatim so handlers see exactly what the channel sent

package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed matches every *MalformedError.
var ErrMalformed = errors.New("malformed activity")

// MalformedError reports an activity missing a field needed for routing.
type MalformedError struct {
	Field string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed activity: missing %s", e.Field)
}

// Is lets errors.Is(err, ErrMalformed) match.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// ConversationKey identifies a conversation within a channel.
// It is comparable and used directly as a map key.
type ConversationKey struct {
	ChannelID      string
	ConversationID string
}

func (k ConversationKey) String() string {
	return k.ChannelID + "/" + k.ConversationID
}

// ConversationRef is the conversation object carried by an activity.
type ConversationRef struct {
	ID string `json:"id"`
}

// Activity is a decoded inbound event. Only the routing fields are typed;
// everything else stays in Raw.
type Activity struct {
	ID           string           `json:"id,omitempty"`
	Type         string           `json:"type,omitempty"`
	Text         string           `json:"text,omitempty"`
	ChannelID    string           `json:"channelId,omitempty"`
	Conversation *ConversationRef `json:"conversation,omitempty"`

	// Raw is the complete payload as received.
	Raw json.RawMessage `json:"-"`
}

// Decode parses a JSON payload into an Activity, retaining the raw bytes.
// It does not check routing fields; Key does that on the consumer side.
func Decode(data []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding activity: %w", err)
	}
	a.Raw = append(json.RawMessage(nil), data...)
	return &a, nil
}

// Key derives the conversation identity, failing with *MalformedError when
// channelId or conversation.id is absent.
func (a *Activity) Key() (ConversationKey, error) {
	if a == nil {
		return ConversationKey{}, &MalformedError{Field: "activity"}
	}
	if strings.TrimSpace(a.ChannelID) == "" {
		return ConversationKey{}, &MalformedError{Field: "channelId"}
	}
	if a.Conversation == nil || strings.TrimSpace(a.Conversation.ID) == "" {
		return ConversationKey{}, &MalformedError{Field: "conversation.id"}
	}
	return ConversationKey{ChannelID: a.ChannelID, ConversationID: a.Conversation.ID}, nil
}

// New builds an activity for the given channel and conversation, mostly
// useful to tests and in-process producers.
func New(channelID, conversationID, text string) *Activity {
	a := &Activity{
		Type:         "message",
		Text:         text,
		ChannelID:    channelID,
		Conversation: &ConversationRef{ID: conversationID},
	}
	a.Raw, _ = json.Marshal(a)
	return a
}
