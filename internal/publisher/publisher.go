// Package publisher pushes live patrol data onto a message bus.
package publisher

import "time"

// Publisher sends payloads to a topic on some transport.
type Publisher interface {
	Publish(topic string, payload []byte) error
	// Topic joins parts with the transport's separator, sanitising each part.
	Topic(parts ...string) string
	Close()
}

type PublisherMetrics interface {
	PublishedInc(transport string)
	PublishErrInc(transport string)
	PublishObserve(transport string, d time.Duration)
	SetConnected(transport string, connected bool)
}

func observe(m PublisherMetrics, transport string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.PublishObserve(transport, time.Since(start))
	if err != nil {
		m.PublishErrInc(transport)
	} else {
		m.PublishedInc(transport)
	}
}

func setConnected(m PublisherMetrics, transport string, connected bool) {
	if m != nil {
		m.SetConnected(transport, connected)
	}
}

