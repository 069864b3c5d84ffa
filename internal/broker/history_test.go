package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adred-codev/topichub/internal/protocol"
)

func seqs(msgs []protocol.MessagePayload) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload["seq"].(int)
	}
	return out
}

func intPayload(seq int) protocol.MessagePayload {
	return protocol.MessagePayload{Payload: map[string]any{"seq": seq}}
}

func TestHistoryEmpty(t *testing.T) {
	h := newHistory(4)

	require.Equal(t, 0, h.len())
	require.Nil(t, h.last(0))
	require.Nil(t, h.last(10))
}

func TestHistoryOrder(t *testing.T) {
	h := newHistory(4)
	for i := 1; i <= 3; i++ {
		h.add(intPayload(i))
	}

	require.Equal(t, 3, h.len())
	require.Equal(t, []int{1, 2, 3}, seqs(h.last(3)))
	require.Equal(t, []int{2, 3}, seqs(h.last(2)))
	require.Equal(t, []int{1, 2, 3}, seqs(h.last(10)))
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := newHistory(4)
	for i := 1; i <= 9; i++ {
		h.add(intPayload(i))
	}

	require.Equal(t, 4, h.len())
	require.Equal(t, []int{6, 7, 8, 9}, seqs(h.last(4)))
	require.Equal(t, []int{8, 9}, seqs(h.last(2)))
}

func TestHistoryWraparound(t *testing.T) {
	h := newHistory(3)
	for i := 1; i <= 4; i++ {
		h.add(intPayload(i))
	}
	require.Equal(t, []int{2, 3, 4}, seqs(h.last(3)))

	h.add(intPayload(5))
	require.Equal(t, []int{3, 4, 5}, seqs(h.last(3)))
	require.Equal(t, []int{5}, seqs(h.last(1)))
}
