// Package broker implements the in-memory publish/subscribe engine: the
// topic registry, the subscription graph, the publish fan-out pipeline, and
// the bounded per-topic history with replay-on-subscribe.
//
// All state is mutated under a single broker-wide mutex. Fan-out and replay
// sends happen while the mutex is held; because Conn.Send only enqueues into
// a per-connection outbound buffer this keeps critical sections short while
// guaranteeing that a subscriber's replay cannot interleave with a
// concurrent publish on the same topic.
package broker

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/topichub/internal/metrics"
	"github.com/adred-codev/topichub/internal/protocol"
)

// CloseNormal is the close code sent to subscribers of a deleted topic.
const CloseNormal = 1000

// Conn is the broker's handle on a subscriber connection. Send must not
// block: it either enqueues the frame for delivery or returns an error,
// which the broker treats the same as a closed connection. Implementations
// must tolerate Close and Send racing with connection teardown.
type Conn interface {
	Send(frame []byte) error
	Close(code int)
	Connected() bool
}

// HealthStats is the aggregate snapshot served by GET /health.
type HealthStats struct {
	Topics      int
	Subscribers int
}

// TopicStats is the per-topic snapshot served by GET /stats.
type TopicStats struct {
	Messages    uint64 `json:"messages"`
	Subscribers int    `json:"subscribers"`
}

// Broker owns the topic registry and the subscription graph.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic

	// index is the inverse of topic.subscribers: client id → subscribed
	// topic names. It exists so DisconnectClient is bounded by the client's
	// subscriptions instead of the number of topics. A client id is present
	// iff it has at least one subscription.
	index map[string]map[string]struct{}

	logger zerolog.Logger
}

// New creates an empty broker.
func New(logger zerolog.Logger) *Broker {
	return &Broker{
		topics: make(map[string]*topic),
		index:  make(map[string]map[string]struct{}),
		logger: logger.With().Str("component", "broker").Logger(),
	}
}

// CreateTopic registers an empty topic. Name constraints are validated by
// the REST layer.
func (b *Broker) CreateTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[name]; ok {
		return ErrTopicExists
	}
	b.topics[name] = newTopic(name)
	metrics.SetTopics(len(b.topics))

	b.logger.Info().Str("topic", name).Msg("Topic created")
	return nil
}

// DeleteTopic removes a topic, notifying every current subscriber with a
// topic_deleted info frame and closing its connection with a normal-closure
// code. Subscribers' index entries are purged so no client retains the name.
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return ErrTopicNotFound
	}

	frame := b.encode(protocol.NewInfo(name, protocol.InfoTopicDeleted))
	for clientID, conn := range t.subscribers {
		if conn.Connected() {
			if frame != nil {
				if err := conn.Send(frame); err != nil {
					b.logger.Debug().
						Str("topic", name).
						Str("client_id", clientID).
						Err(err).
						Msg("Failed to notify subscriber of topic deletion")
				}
			}
			conn.Close(CloseNormal)
		}
		b.unindex(clientID, name)
	}

	delete(b.topics, name)
	metrics.SetTopics(len(b.topics))
	metrics.SetSubscriptions(b.subscriptionTotal())

	b.logger.Info().
		Str("topic", name).
		Int("subscribers_disconnected", len(t.subscribers)).
		Msg("Topic deleted")
	return nil
}

// Topics returns a snapshot of current topic names in unspecified order.
func (b *Broker) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	return names
}

// Subscribe installs conn as the topic's connection handle for clientID,
// replacing any prior handle for the same client id. If lastN > 0, up to the
// lastN most recent historical payloads are replayed to conn in publication
// order before Subscribe returns; the broker's exclusion guarantees no
// concurrent publish interleaves with the replay.
func (b *Broker) Subscribe(topicName, clientID string, conn Conn, lastN int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicName]
	if !ok {
		return ErrTopicNotFound
	}

	t.subscribers[clientID] = conn

	set, ok := b.index[clientID]
	if !ok {
		set = make(map[string]struct{})
		b.index[clientID] = set
	}
	set[topicName] = struct{}{}

	replayed := 0
	if lastN > 0 {
		for _, msg := range t.history.last(lastN) {
			frame := b.encode(protocol.NewEvent(topicName, msg))
			if frame == nil {
				continue
			}
			if err := conn.Send(frame); err != nil {
				b.logger.Debug().
					Str("topic", topicName).
					Str("client_id", clientID).
					Err(err).
					Msg("Replay send failed")
				break
			}
			metrics.RecordEventReplayed()
			replayed++
		}
	}

	metrics.SetSubscriptions(b.subscriptionTotal())
	b.logger.Info().
		Str("topic", topicName).
		Str("client_id", clientID).
		Int("replayed", replayed).
		Msg("Client subscribed")
	return nil
}

// Unsubscribe removes clientID's membership on the topic. A missing
// subscription is a no-op; only a missing topic is an error.
func (b *Broker) Unsubscribe(topicName, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicName]
	if !ok {
		return ErrTopicNotFound
	}

	delete(t.subscribers, clientID)
	b.unindex(clientID, topicName)

	metrics.SetSubscriptions(b.subscriptionTotal())
	b.logger.Info().
		Str("topic", topicName).
		Str("client_id", clientID).
		Msg("Client unsubscribed")
	return nil
}

// Publish appends msg to the topic's history, bumps its message counter and
// fans the event out to every current subscriber. Subscribers whose
// connection is closed or whose send fails are purged from the topic at the
// end of the fan-out; their index entries are left for DisconnectClient.
func (b *Broker) Publish(topicName string, msg protocol.MessagePayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicName]
	if !ok {
		return ErrTopicNotFound
	}

	t.history.add(msg)
	t.messageCount++
	metrics.RecordPublish()

	frame := b.encode(protocol.NewEvent(topicName, msg))
	if frame == nil {
		return nil
	}

	var dead []string
	for clientID, conn := range t.subscribers {
		if !conn.Connected() {
			metrics.RecordSendFailure()
			dead = append(dead, clientID)
			continue
		}
		if err := conn.Send(frame); err != nil {
			metrics.RecordSendFailure()
			b.logger.Debug().
				Str("topic", topicName).
				Str("client_id", clientID).
				Err(err).
				Msg("Fan-out send failed")
			dead = append(dead, clientID)
			continue
		}
		metrics.RecordEventDelivered()
	}

	for _, clientID := range dead {
		delete(t.subscribers, clientID)
	}
	if len(dead) > 0 {
		metrics.SetSubscriptions(b.subscriptionTotal())
		b.logger.Debug().
			Str("topic", topicName).
			Int("purged", len(dead)).
			Msg("Purged dead subscribers during fan-out")
	}
	return nil
}

// DisconnectClient removes clientID from every topic it is subscribed to
// and drops its index entry. Idempotent; tolerates topics deleted since the
// subscription was taken.
func (b *Broker) DisconnectClient(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.index[clientID]
	if !ok {
		return
	}
	for name := range set {
		if t, ok := b.topics[name]; ok {
			delete(t.subscribers, clientID)
		}
	}
	delete(b.index, clientID)

	metrics.SetSubscriptions(b.subscriptionTotal())
	b.logger.Info().
		Str("client_id", clientID).
		Int("subscriptions_removed", len(set)).
		Msg("Client disconnected")
}

// HealthStats returns the aggregate counts for GET /health. Uptime is
// stamped by the caller.
func (b *Broker) HealthStats() HealthStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, t := range b.topics {
		total += len(t.subscribers)
	}
	return HealthStats{Topics: len(b.topics), Subscribers: total}
}

// Stats returns the per-topic snapshot for GET /stats.
func (b *Broker) Stats() map[string]TopicStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]TopicStats, len(b.topics))
	for name, t := range b.topics {
		out[name] = TopicStats{Messages: t.messageCount, Subscribers: len(t.subscribers)}
	}
	return out
}

// unindex drops topicName from clientID's index entry, purging the entry
// when its last subscription goes. Callers hold b.mu.
func (b *Broker) unindex(clientID, topicName string) {
	set, ok := b.index[clientID]
	if !ok {
		return
	}
	delete(set, topicName)
	if len(set) == 0 {
		delete(b.index, clientID)
	}
}

// subscriptionTotal counts current subscriptions across all topics. Callers
// hold b.mu.
func (b *Broker) subscriptionTotal() int {
	total := 0
	for _, t := range b.topics {
		total += len(t.subscribers)
	}
	return total
}

func (b *Broker) encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to encode frame")
		return nil
	}
	return data
}
