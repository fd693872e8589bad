package publisher

import (
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const transportNATS = "nats"

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

func NewNATSPublisher(url, name string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(m, transportNATS, false)
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(m, transportNATS, true)
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(m, transportNATS, false)
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(m, transportNATS, true)
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) Topic(parts ...string) string { return natsSubject(parts...) }

func (p *NATSPublisher) Publish(subject string, payload []byte) error {
	if p.logSubjects {
		log.Printf("nats publish subject=%s bytes=%d", subject, len(payload))
	}
	start := time.Now()
	err := p.nc.Publish(subject, payload)
	observe(p.metrics, transportNATS, start, err)
	return err
}

func natsSubject(parts ...string) string {
	tokens := make([]string, 0, len(parts))
	for _, s := range parts {
		tokens = append(tokens, subjectToken(s))
	}
	return strings.Join(tokens, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
