package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestApplyAppendsAgentMessage(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, res := r.Apply(nil, 1, AgentEvent{Kind: KindReasoning, Content: "thinking about the song"})

	require.True(t, res.Changed)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].ID)
	assert.Equal(t, 1, list[0].ConversationID)
	assert.Equal(t, KindReasoning, list[0].Kind)
	assert.False(t, list[0].IsUser)
	assert.Zero(t, res.SupersededID)
}

func TestApplyDropsEmptyContent(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, res := r.Apply(nil, 1, AgentEvent{Kind: KindAnswer})

	assert.False(t, res.Changed)
	assert.Empty(t, list)
}

func TestApplyIsIdempotent(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	ev := AgentEvent{Kind: KindAnswer, Content: "the track is ready"}

	list, res := r.Apply(nil, 1, ev)
	require.True(t, res.Changed)

	// Redelivery of the same event must be a no-op.
	list2, res2 := r.Apply(list, 1, ev)
	assert.False(t, res2.Changed)
	assert.Equal(t, list, list2)
}

func TestApplyDistinguishesByKindAndHash(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, _ := r.Apply(nil, 1, AgentEvent{Kind: KindReasoning, Content: "working"})
	list, res := r.Apply(list, 1, AgentEvent{Kind: KindAnswer, Content: "working"})
	require.True(t, res.Changed, "same content with different kind is not a duplicate")

	list, res = r.Apply(list, 1, AgentEvent{Kind: KindAnswer, Content: "working", TxHash: "0xabc"})
	require.True(t, res.Changed, "same content with a tx hash is not a duplicate")
	assert.Len(t, list, 3)
}

func TestApplySupersedesPendingWithFinal(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, _ := r.Apply(nil, 1, AgentEvent{Kind: KindTransaction, Content: "Swap completed to obtain 1 VIRTUAL."})
	list, _ = r.Apply(list, 1, AgentEvent{Kind: KindReasoning, Content: "now generating the song"})
	pendingID := list[0].ID

	list, res := r.Apply(list, 1, AgentEvent{
		Kind:    KindTransaction,
		Content: "Swap completed to obtain 1 VIRTUAL.",
		TxHash:  "0xdeadbeef",
		Credits: 5,
	})

	require.True(t, res.Changed)
	assert.Equal(t, pendingID, res.SupersededID)
	require.Len(t, list, 2)
	// Final counterpart lands at the end, pending version is gone.
	assert.Equal(t, KindReasoning, list[0].Kind)
	assert.Equal(t, "0xdeadbeef", list[1].TxHash)
	assert.Equal(t, 5, list[1].Credits)
}

func TestApplySupersessionRequiresMatchingKind(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, _ := r.Apply(nil, 1, AgentEvent{Kind: KindAnswer, Content: "Swap completed."})
	list, res := r.Apply(list, 1, AgentEvent{Kind: KindTransaction, Content: "Swap completed.", TxHash: "0x1"})

	require.True(t, res.Changed)
	assert.Zero(t, res.SupersededID)
	assert.Len(t, list, 2)
}

func TestApplyNeverSupersedesFinalMessages(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, _ := r.Apply(nil, 1, AgentEvent{Kind: KindTransaction, Content: "paid", TxHash: "0x1"})
	list, res := r.Apply(list, 1, AgentEvent{Kind: KindTransaction, Content: "paid", TxHash: "0x2"})

	require.True(t, res.Changed)
	assert.Zero(t, res.SupersededID)
	assert.Len(t, list, 2)
}

func TestApplyNeverMatchesUserMessages(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	user := Message{ID: 1, ConversationID: 1, IsUser: true, Kind: KindAnswer, Content: "hello"}

	list, res := r.Apply([]Message{user}, 1, AgentEvent{Kind: KindAnswer, Content: "hello"})

	require.True(t, res.Changed, "an agent echo of a user message is not a duplicate")
	assert.Len(t, list, 2)
}

func TestApplyIDsStayUniqueAfterSupersession(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	list, _ := r.Apply(nil, 1, AgentEvent{Kind: KindTransaction, Content: "swap"})
	list, _ = r.Apply(list, 1, AgentEvent{Kind: KindTransaction, Content: "swap", TxHash: "0x1"})
	list, _ = r.Apply(list, 1, AgentEvent{Kind: KindAnswer, Content: "done"})

	seen := make(map[int]bool)
	for _, m := range list {
		assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
	}
}
