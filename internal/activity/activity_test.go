// ABOUTME: Tests for activity decoding and conversation key derivation
// ABOUTME: Covers missing routing fields and verbatim payload retention

package activity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KeepsRawPayload(t *testing.T) {
	payload := []byte(`{"type":"message","channelId":"teams","conversation":{"id":"c1","isGroup":true},"entities":[{"type":"mention"}]}`)

	a, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, "teams", a.ChannelID)
	assert.Equal(t, "c1", a.Conversation.ID)
	assert.JSONEq(t, string(payload), string(a.Raw))

	payload[0] = 'X'
	assert.NotEqual(t, byte('X'), a.Raw[0], "raw payload must not alias the input buffer")
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    ConversationKey
		field   string
	}{
		{
			name:    "complete",
			payload: `{"channelId":"teams","conversation":{"id":"c1"}}`,
			want:    ConversationKey{ChannelID: "teams", ConversationID: "c1"},
		},
		{name: "missing channel", payload: `{"conversation":{"id":"c1"}}`, field: "channelId"},
		{name: "missing conversation", payload: `{"channelId":"teams"}`, field: "conversation.id"},
		{name: "empty conversation id", payload: `{"channelId":"teams","conversation":{}}`, field: "conversation.id"},
		{name: "blank channel", payload: `{"channelId":"  ","conversation":{"id":"c1"}}`, field: "channelId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Decode([]byte(tt.payload))
			require.NoError(t, err)

			key, err := a.Key()
			if tt.field == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, key)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var malformed *MalformedError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.field, malformed.Field)
		})
	}
}

func TestKey_NilActivity(t *testing.T) {
	var a *Activity
	_, err := a.Key()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestConversationKey_Equality(t *testing.T) {
	a := ConversationKey{ChannelID: "teams", ConversationID: "c1"}
	b := ConversationKey{ChannelID: "teams", ConversationID: "c1"}
	c := ConversationKey{ChannelID: "slack", ConversationID: "c1"}

	m := map[ConversationKey]int{a: 1}
	m[b]++
	m[c]++

	assert.Equal(t, 2, m[a])
	assert.Len(t, m, 2)
	assert.Equal(t, "teams/c1", a.String())
}

func TestNew(t *testing.T) {
	a := New("teams", "c9", "hello")
	key, err := a.Key()
	require.NoError(t, err)
	assert.Equal(t, ConversationKey{ChannelID: "teams", ConversationID: "c9"}, key)
	assert.JSONEq(t, `{"type":"message","text":"hello","channelId":"teams","conversation":{"id":"c9"}}`, string(a.Raw))
}
