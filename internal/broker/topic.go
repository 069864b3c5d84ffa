package broker

// HistoryLimit bounds the per-topic replay window. Publishes beyond it evict
// the oldest retained payload.
const HistoryLimit = 100

// topic aggregates all state for a single named channel. All fields are
// guarded by the owning Broker's mutex.
type topic struct {
	name         string
	subscribers  map[string]Conn // client id → connection handle
	history      *history
	messageCount uint64
}

func newTopic(name string) *topic {
	return &topic{
		name:        name,
		subscribers: make(map[string]Conn),
		history:     newHistory(HistoryLimit),
	}
}
