package publisher

import (
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	transportMQTT = "mqtt"

	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTPublisher publishes QoS 0, non-retained messages.
type MQTTPublisher struct {
	client    mqtt.Client
	logTopics bool
	metrics   PublisherMetrics
}

func NewMQTTPublisher(broker, clientID string, logTopics bool, m PublisherMetrics) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOnConnectHandler(func(_ mqtt.Client) {
			setConnected(m, transportMQTT, true)
			log.Printf("mqtt connected to %s", broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			setConnected(m, transportMQTT, false)
			log.Printf("mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return &MQTTPublisher{client: client, logTopics: logTopics, metrics: m}, nil
}

func (p *MQTTPublisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
		setConnected(p.metrics, transportMQTT, false)
	}
}

func (p *MQTTPublisher) Topic(parts ...string) string { return mqttTopic(parts...) }

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	if p.logTopics {
		log.Printf("mqtt publish topic=%s bytes=%d", topic, len(payload))
	}
	start := time.Now()
	token := p.client.Publish(topic, 0, false, payload)
	var err error
	if !token.WaitTimeout(mqttPublishTimeout) {
		err = fmt.Errorf("mqtt publish %s: timed out", topic)
	} else {
		err = token.Error()
	}
	observe(p.metrics, transportMQTT, start, err)
	return err
}

func mqttTopic(parts ...string) string {
	levels := make([]string, 0, len(parts))
	for _, s := range parts {
		levels = append(levels, topicLevel(s))
	}
	return strings.Join(levels, "/")
}

// topicLevel strips the level separator and wildcards from one topic level.
func topicLevel(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer("/", "_", "+", "_", "#", "_", "\x00", "")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
