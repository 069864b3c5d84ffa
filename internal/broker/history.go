package broker

import "github.com/adred-codev/topichub/internal/protocol"

// history is a bounded ring of the most recent payloads published on a
// topic. When full, the oldest entry is overwritten.
type history struct {
	buf  []protocol.MessagePayload
	head int // next write position
	size int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]protocol.MessagePayload, capacity)}
}

func (h *history) add(m protocol.MessagePayload) {
	h.buf[h.head] = m
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// last returns up to n most recent payloads in publication order, oldest
// first. n larger than the retained count returns everything retained.
func (h *history) last(n int) []protocol.MessagePayload {
	if n > h.size {
		n = h.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]protocol.MessagePayload, 0, n)
	start := h.head - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

func (h *history) len() int {
	return h.size
}
