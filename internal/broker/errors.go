package broker

import "errors"

var (
	// ErrTopicExists is returned by CreateTopic when the name is already
	// registered.
	ErrTopicExists = errors.New("topic already exists")

	// ErrTopicNotFound is returned when an operation names a topic that is
	// not registered.
	ErrTopicNotFound = errors.New("topic not found")
)
