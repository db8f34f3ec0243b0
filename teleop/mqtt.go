package teleop

import (
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultPublishPrefix is the topic root used when none is configured.
const DefaultPublishPrefix = "teleconsole"

// MQTTClient mirrors console state to an MQTT broker and listens for remote
// clear-map requests.
type MQTTClient struct {
	client      mqtt.Client
	prefix      string
	bus         *Bus
	isConnected bool
	mu          sync.RWMutex
}

// MQTTSettings resolves broker settings from the environment first, then
// from cfg. An empty Broker means MQTT is disabled.
func MQTTSettings(cfg MQTTConfig) MQTTConfig {
	out := cfg
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		out.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		out.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		out.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		out.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		out.PublishPrefix = v
	}
	if out.PublishPrefix == "" {
		out.PublishPrefix = DefaultPublishPrefix
	}
	if out.ClientID == "" {
		out.ClientID = "teleconsole-" + uuid.NewString()[:8]
	}
	return out
}

// InitMQTT connects to the configured broker in the background. It returns
// nil, nil when no broker is configured.
func InitMQTT(cfg MQTTConfig, bus *Bus) (*MQTTClient, error) {
	settings := MQTTSettings(cfg)
	if settings.Broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	c := &MQTTClient{prefix: settings.PublishPrefix, bus: bus}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	log.Printf("[MQTT] connecting to %s as %s", settings.Broker, settings.ClientID)
	go c.connectWithRetry()
	return c, nil
}

// WrapMQTTClient wraps an existing paho client, typically a MockClient in
// tests. The caller is responsible for connecting it.
func WrapMQTTClient(client mqtt.Client, prefix string, bus *Bus) *MQTTClient {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &MQTTClient{client: client, prefix: prefix, bus: bus}
}

// connectWithRetry keeps dialing with exponential backoff until the first
// connection succeeds; paho's auto-reconnect takes over after that.
func (c *MQTTClient) connectWithRetry() {
	delay := time.Second
	const maxDelay = 60 * time.Second
	for {
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}
		log.Printf("[MQTT] retrying in %v", delay)
		time.Sleep(delay)
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// ClearTopic is the topic remote clients publish to in order to clear the map.
func (c *MQTTClient) ClearTopic() string {
	return c.prefix + "/clear"
}

// Prefix returns the topic root.
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	topic := c.ClearTopic()
	token := client.Subscribe(topic, 0, c.handleClear)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] subscribe %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] subscribed to %s", topic)
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// handleClear raises the clear-map broadcast for any message on ClearTopic.
func (c *MQTTClient) handleClear(_ mqtt.Client, msg mqtt.Message) {
	log.Printf("[MQTT] clear requested via %s", msg.Topic())
	if c.bus != nil {
		c.bus.Publish(ClearMapTopic)
	}
}

// IsConnected reports whether the broker connection is up.
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

// Disconnect closes the broker connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// GetClient returns the underlying paho client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
