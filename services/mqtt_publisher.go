package services

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mfrey/minol-monitor/models"
)

// MQTTPublisher republishes extracted metrics to an MQTT broker so
// home-automation consumers can subscribe instead of polling the API.
// Tenant data is never published, only numeric metrics.
type MQTTPublisher struct {
	brokerURL   string
	clientID    string
	topicPrefix string

	mu     sync.Mutex
	client mqtt.Client
}

// MetricMessage is the payload published per metric topic.
type MetricMessage struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMQTTPublisher(brokerURL, clientID, topicPrefix string) *MQTTPublisher {
	if topicPrefix == "" {
		topicPrefix = "minol"
	}
	return &MQTTPublisher{
		brokerURL:   brokerURL,
		clientID:    clientID,
		topicPrefix: topicPrefix,
	}
}

func (p *MQTTPublisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.brokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%d", p.clientID, time.Now().Unix()))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWriteTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[MQTT Publisher] WARNING: Connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("[MQTT Publisher] Connected to broker %s", p.brokerURL)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timeout connecting to broker %s", p.brokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker %s: %v", p.brokerURL, err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

func (p *MQTTPublisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.client = nil
}

// PublishMetrics publishes one retained message per metric. A broker
// that is temporarily away is not an error for the refresh cycle; the
// miss is logged and the next cycle publishes again.
func (p *MQTTPublisher) PublishMetrics(metrics []models.Metric) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		log.Println("[MQTT Publisher] WARNING: Not connected, skipping publish")
		return
	}

	published := 0
	for _, m := range metrics {
		payload, err := json.Marshal(MetricMessage{
			Value:     m.Value,
			Unit:      m.Unit,
			Timestamp: time.Now(),
		})
		if err != nil {
			continue
		}

		token := client.Publish(p.MetricTopic(m), 0, true, payload)
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			published++
		} else {
			log.Printf("[MQTT Publisher] ERROR: Failed to publish %s: %v", p.MetricTopic(m), token.Error())
		}
	}

	log.Printf("[MQTT Publisher] Published %d/%d metrics", published, len(metrics))
}

// MetricTopic builds the topic for a metric, e.g.
// "minol/heizung/current_year".
func (p *MQTTPublisher) MetricTopic(m models.Metric) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, strings.ToLower(m.KeyFigure), m.Name)
}
