package domain

import "github.com/cskr/pubsub"

// Topic is a typed topic identifier over the untyped cskr/pubsub bus. The
// type parameter T documents, and enforces at compile time, what Go type is
// published on this topic — publishing the wrong type is a compile error
// instead of a runtime type-assertion panic.
type Topic[T any] struct {
	Name string
}

// NewTopic creates a typed topic with the given name.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{Name: name}
}

// Publish sends typed data to all subscribers of topic.
func Publish[T any](hub *pubsub.PubSub, topic Topic[T], data T) {
	hub.Pub(data, topic.Name)
}

// Subscribe subscribes to topic and returns a channel carrying only the
// decoded T values published to it; values that fail the type assertion
// (which should never happen if all publishers use Publish) are dropped.
func Subscribe[T any](hub *pubsub.PubSub, topic Topic[T]) <-chan T {
	raw := hub.Sub(topic.Name)
	out := make(chan T, 1)
	go func() {
		defer close(out)
		for msg := range raw {
			if v, ok := msg.(T); ok {
				out <- v
			}
		}
	}()
	return out
}
