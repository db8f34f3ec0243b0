package teleop

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(MQTTConfig{}, NewBus())
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestMQTTSettings_EnvOverridesConfig(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_CLIENT_ID", "")
	t.Setenv("MQTT_USERNAME", "robot")
	t.Setenv("MQTT_PASSWORD", "")
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	got := MQTTSettings(MQTTConfig{
		Broker:   "tcp://file:1883",
		ClientID: "console-1",
		Password: "secret",
	})

	assert.Equal(t, "tcp://env:1883", got.Broker)
	assert.Equal(t, "console-1", got.ClientID)
	assert.Equal(t, "robot", got.Username)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, DefaultPublishPrefix, got.PublishPrefix)
}

func TestMQTTSettings_GeneratedClientID(t *testing.T) {
	t.Setenv("MQTT_CLIENT_ID", "")

	a := MQTTSettings(MQTTConfig{}).ClientID
	b := MQTTSettings(MQTTConfig{}).ClientID
	assert.True(t, strings.HasPrefix(a, "teleconsole-"), "client id %q", a)
	assert.Len(t, a, len("teleconsole-")+8)
	assert.NotEqual(t, a, b, "each console should get its own client id")
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_ClearTopic(t *testing.T) {
	assert.Equal(t, "teleconsole/clear", WrapMQTTClient(nil, "", nil).ClearTopic())
	assert.Equal(t, "lab/rover/clear", WrapMQTTClient(nil, "lab/rover", nil).ClearTopic())
}

func TestMQTTClient_OnConnectSubscribesClear(t *testing.T) {
	bus := NewBus()
	cleared := 0
	bus.Subscribe(ClearMapTopic, func() { cleared++ })

	mock := NewMockClient()
	c := WrapMQTTClient(mock, "lab", bus)
	mock.SetOnConnect(c.onConnect)
	require.NoError(t, mock.Connect().Error())

	assert.True(t, c.IsConnected())
	require.True(t, mock.SimulateMessage("lab/clear", []byte("{}")), "clear topic should be subscribed")
	assert.Equal(t, 1, cleared)

	assert.False(t, mock.SimulateMessage("lab/other", nil))
	assert.Equal(t, 1, cleared)
}

func TestMQTTClient_ConnectionLost(t *testing.T) {
	mock := NewMockClient()
	c := WrapMQTTClient(mock, "", nil)
	mock.SetConnected(true)
	c.onConnect(mock)
	require.True(t, c.IsConnected())

	c.onConnectionLost(mock, assert.AnError)
	assert.False(t, c.IsConnected())

	// A clear without a bus is ignored.
	assert.True(t, mock.SimulateMessage(c.ClearTopic(), nil))
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	c := WrapMQTTClient(mock, "", nil)
	c.setConnected(true)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.False(t, mock.IsConnected())
	assert.Same(t, mock, c.GetClient())
}

func TestMQTTClient_ConcurrentAccess(t *testing.T) {
	c := &MQTTClient{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v bool) {
			defer wg.Done()
			c.setConnected(v)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = c.IsConnected()
		}()
	}
	wg.Wait()
}
