package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsThirtyTwoLowercaseHexChars(t *testing.T) {
	id := NewID()
	assert.Len(t, string(id), 32)
	for _, r := range string(id) {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected char %q", r)
	}
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel(SYSTEM))
	assert.True(t, IsSentinel(USER))
	assert.False(t, IsSentinel(NewID()))
}

func TestTimestampRoundTripsThroughJSON(t *testing.T) {
	original := NewTimestamp(time.Date(2026, 3, 5, 9, 30, 15, 123*int(time.Millisecond), time.FixedZone("PDT", -7*3600)))

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-05T16:30:15.123Z"`, string(data))

	var decoded Timestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Time.Equal(decoded.Time))
}

func TestTimestampUnmarshalTolerantOfRFC3339Nano(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2026-03-05T16:30:15.123456789Z"`), &ts))
	assert.False(t, ts.IsZero())
}

func TestTimestampUnmarshalNull(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to SessionState
		want     bool
	}{
		{SessionCreated, SessionActive, true},
		{SessionCreated, SessionTerminated, true},
		{SessionCreated, SessionSuspended, false},
		{SessionActive, SessionSuspended, true},
		{SessionActive, SessionTerminated, true},
		{SessionActive, SessionCreated, false},
		{SessionSuspended, SessionActive, true},
		{SessionSuspended, SessionTerminated, true},
		{SessionTerminated, SessionActive, false},
		{SessionTerminated, SessionSuspended, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	suspendedAt := Now()
	original := &Session{
		ID:            NewID(),
		State:         SessionSuspended,
		ProviderName:  "mock",
		SuspendedAt:   &suspendedAt,
		ProviderState: []byte("state"),
	}

	clone := original.Clone()
	clone.SuspendedAt.Time = clone.SuspendedAt.Time.Add(time.Hour)
	clone.ProviderState[0] = 'X'

	assert.True(t, original.SuspendedAt.Time.Equal(suspendedAt.Time), "mutating the clone's SuspendedAt must not affect the original")
	assert.Equal(t, byte('s'), original.ProviderState[0], "mutating the clone's ProviderState must not affect the original")
}

func TestMessageEnvelopeCloneIsDeep(t *testing.T) {
	recipient := NewID()
	original := &MessageEnvelope{
		ID:        NewID(),
		Sender:    NewID(),
		Recipient: &recipient,
		Kind:      KindRequest,
		Metadata:  map[string]string{"k": "v"},
	}

	clone := original.Clone()
	*clone.Recipient = NewID()
	clone.Metadata["k"] = "changed"

	assert.Equal(t, recipient, *original.Recipient, "mutating the clone's Recipient must not affect the original")
	assert.Equal(t, "v", original.Metadata["k"], "mutating the clone's Metadata must not affect the original")
}

func TestAgentNodeIsRoot(t *testing.T) {
	root := &AgentNode{ID: NewID()}
	assert.True(t, root.IsRoot())

	parent := NewID()
	child := &AgentNode{ID: NewID(), ParentID: &parent}
	assert.False(t, child.IsRoot())
}

func TestAgentNodeCloneIsDeep(t *testing.T) {
	parent := NewID()
	original := &AgentNode{
		ID:       NewID(),
		ParentID: &parent,
		Children: []ID{NewID(), NewID()},
	}

	clone := original.Clone()
	*clone.ParentID = NewID()
	clone.Children[0] = NewID()

	assert.Equal(t, parent, *original.ParentID, "mutating the clone's ParentID must not affect the original")
	assert.NotEqual(t, clone.Children[0], original.Children[0])
}
