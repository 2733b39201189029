package sfm

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient manages the broker connection used for report publishing.
type MQTTClient struct {
	client      mqtt.Client
	isConnected bool
	mu          sync.RWMutex
}

// ConnectMQTT connects to the broker named in the config. The connect is
// synchronous with a short bounded retry: a one-shot run either gets its
// connection quickly or reports the failure and moves on.
func ConnectMQTT(cfg *MQTTConfig) (*MQTTClient, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sfmtransfer"
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// One-shot process: no auto-reconnect, clean session.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(true)

	client := &MQTTClient{client: mqtt.NewClient(opts)}
	if err := client.connectWithRetry(3, time.Second); err != nil {
		return nil, err
	}
	return client, nil
}

// connectWithRetry attempts the initial connect up to attempts times with a
// fixed delay between tries.
func (c *MQTTClient) connectWithRetry(attempts int, delay time.Duration) error {
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Printf("Retrying MQTT connection (%d/%d)...", i+1, attempts)
			time.Sleep(delay)
		}

		token := c.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			lastErr = fmt.Errorf("connection timeout")
			continue
		}
		if err := token.Error(); err != nil {
			lastErr = err
			continue
		}

		c.setConnected(true)
		return nil
	}

	return fmt.Errorf("connecting to MQTT broker: %w", lastErr)
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTClientWithMock(client mqtt.Client) *MQTTClient {
	return &MQTTClient{client: client}
}
