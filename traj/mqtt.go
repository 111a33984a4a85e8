package traj

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when neither env nor config set one
const DefaultPublishPrefix = "trajalign"

// EvaluateHandler is called when an evaluation request for a pair arrives
type EvaluateHandler func(pair string)

// MQTTClient manages the broker connection and the evaluation request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	prefix      string
	onEvaluate  EvaluateHandler
	isConnected bool
	mu          sync.RWMutex
}

// ResolvePublishPrefix returns MQTT_PUBLISH_PREFIX, the configured prefix, or
// DefaultPublishPrefix, in that order
func ResolvePublishPrefix(config *Config) string {
	if prefix := os.Getenv("MQTT_PUBLISH_PREFIX"); prefix != "" {
		return prefix
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return DefaultPublishPrefix
}

// InitMQTT creates the MQTT client. Call Connect to start connecting; queued
// evaluation requests may arrive as soon as it does. If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this
// returns nil, nil.
func InitMQTT(config *Config, handler EvaluateHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		Logf("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Pairs) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no pairs configured")
	}

	client := &MQTTClient{
		config:     config,
		prefix:     ResolvePublishPrefix(config),
		onEvaluate: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "trajalign"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	return client, nil
}

// Connect starts connecting to the broker in the background
func (c *MQTTClient) Connect() {
	go c.connectWithRetry()
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		Logf("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				Logf("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			Logf("MQTT connection failed: %v", token.Error())
		} else {
			Logf("MQTT connection timeout")
		}

		Logf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// EvaluateTopic returns the topic evaluation requests are read from
func (c *MQTTClient) EvaluateTopic() string {
	return c.prefix + "/evaluate"
}

// onConnect subscribes to the evaluation request topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.EvaluateTopic()
	Logf("MQTT connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleEvaluateRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		Logf("Error subscribing to %s: %v", topic, token.Error())
		return
	}
	Logf("Successfully subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	Logf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	Logf("MQTT reconnecting...")
}

// evaluateRequest is the JSON form of an evaluation request
type evaluateRequest struct {
	Pair string `json:"pair"`
}

// parseEvaluateRequest accepts {"pair": "name"}, a JSON string, or a raw pair name
func parseEvaluateRequest(payload []byte) string {
	var req evaluateRequest
	if err := json.Unmarshal(payload, &req); err == nil && req.Pair != "" {
		return req.Pair
	}
	var name string
	if err := json.Unmarshal(payload, &name); err == nil {
		return strings.TrimSpace(name)
	}
	return strings.TrimSpace(string(payload))
}

func (c *MQTTClient) handleEvaluateRequest(client mqtt.Client, msg mqtt.Message) {
	pair := parseEvaluateRequest(msg.Payload())
	if pair == "" {
		Logf("Empty evaluation request on %s, skipping", msg.Topic())
		return
	}
	if c.config.GetPair(pair) == nil {
		Logf("Evaluation request for unknown pair %q, skipping", pair)
		return
	}

	Logf("Received evaluation request for %s", pair)
	if c.onEvaluate != nil {
		c.onEvaluate(pair)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		Logf("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// Prefix returns the resolved topic prefix
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// NewMQTTClientWithClient wraps an existing mqtt.Client. No connection is
// attempted; the subscription is made by the client's connect handler, which
// is registered here when the client accepts one.
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler EvaluateHandler) *MQTTClient {
	c := &MQTTClient{
		client:      client,
		config:      config,
		prefix:      ResolvePublishPrefix(config),
		onEvaluate:  handler,
		isConnected: client != nil && client.IsConnected(),
	}
	if h, ok := client.(interface {
		SetOnConnectHandler(mqtt.OnConnectHandler)
	}); ok {
		h.SetOnConnectHandler(c.onConnect)
	}
	return c
}
