package sfm

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TransferReport is the JSON document published after a transfer run.
type TransferReport struct {
	Timestamp int64         `json:"timestamp"`
	Method    string        `json:"method"`
	Target    string        `json:"target"`
	Reference string        `json:"reference"`
	Output    string        `json:"output"`
	Pairs     int           `json:"pairs"`
	Stats     TransferStats `json:"stats"`
}

// Publisher publishes transfer reports to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a report publisher for the given client and settings.
// The topic prefix defaults to "sfmtransfer".
func NewPublisher(client mqtt.Client, cfg *MQTTConfig) *Publisher {
	prefix := cfg.PublishPrefix
	if prefix == "" {
		prefix = "sfmtransfer"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           cfg.QoS,
		retain:        cfg.Retain,
	}
}

// PublishReport publishes the report to {prefix}/report. A zero timestamp is
// filled in with the current time.
func (p *Publisher) PublishReport(report TransferReport) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if report.Timestamp == 0 {
		report.Timestamp = time.Now().Unix()
	}

	topic := fmt.Sprintf("%s/report", p.publishPrefix)

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published transfer report to %s (%d pairs, %d views updated)",
		topic, report.Pairs, report.Stats.Updated)
	return nil
}
