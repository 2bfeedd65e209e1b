package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/verdantlab/brokkoli/internal/config"
)

// connectTimeout bounds the blocking wait for the first broker
// connection. After that, autopaho retries in the background.
const connectTimeout = 10 * time.Second

var (
	// ErrNotConnected is returned when an operation requires a live
	// broker session and there is none.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrNotRegistered is returned for a state publish whose sensor id
	// has no discovery record. Publishing would require fabricating a
	// topic, so the call fails instead.
	ErrNotRegistered = errors.New("sensor not registered")
)

// SensorSpec describes one sensor to announce through discovery.
type SensorSpec struct {
	// ID is the stable sensor identifier, used in the discovery topic
	// and as the HA unique_id.
	ID string
	// Name is the human-readable sensor name.
	Name string
	// StateTopic is where state values for this sensor are published.
	StateTopic string
	Unit       string
	Icon       string
	StateClass string
}

// registration is a row of the registration table: the announced
// discovery config plus the state topic recorded for publishes.
type registration struct {
	config     SensorConfig
	stateTopic string
}

// publishFunc sends a single MQTT message. The production
// implementation rides the autopaho connection manager; tests swap in
// a recorder.
type publishFunc func(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error

// Client manages the broker session, the discovery registration table,
// and all publish operations. Registration and unregistration are
// driven from the coordinator's single call path; the network-event
// callbacks only read the table (for replay), so a single mutex
// suffices.
type Client struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	logger     *slog.Logger

	cm        *autopaho.ConnectionManager
	connected atomic.Bool
	publish   publishFunc

	mu            sync.Mutex
	registrations map[string]registration
}

// New creates a Client but does not connect. Call [Client.Connect] to
// open the session.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:           cfg,
		instanceID:    instanceID,
		device:        NewDeviceInfo(instanceID, cfg.DeviceName),
		logger:        logger,
		registrations: make(map[string]registration),
	}
	c.publish = c.publishPaho
	return c
}

// Connect opens the broker session and blocks up to the connect
// timeout for the first connection; failure to connect in time is
// returned as an error (fatal at startup). Once connected, autopaho
// owns reconnection, and every (re-)connect re-subscribes to the hub
// status topic, replays the discovery table, and announces "online".
func (c *Client) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL())
	if err != nil {
		return fmt.Errorf("parse broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   c.AvailabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.connected.Store(true)
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.BrokerURL())
			c.subscribeHubStatus(ctx, cm)
			c.replayDiscovery(ctx)
			c.PublishAvailability(ctx, "online")
		},
		OnConnectError: func(err error) {
			c.connected.Store(false)
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "brokkoli-" + c.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onMessage,
			},
			OnClientError: func(err error) {
				c.connected.Store(false)
				c.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.connected.Store(false)
				c.logger.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("broker %s not reachable within %s: %w",
			c.cfg.BrokerURL(), connectTimeout, err)
	}
	return nil
}

// Disconnect announces "offline" and closes the session. Safe to call
// when never connected.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	c.PublishAvailability(ctx, "offline")
	c.connected.Store(false)
	return c.cm.Disconnect(ctx)
}

// Connected reports whether a broker session is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// --- Topic helpers ---

func (c *Client) baseTopic() string {
	return "brokkoli/" + c.cfg.DeviceName
}

// AvailabilityTopic is the retained process-liveness topic.
func (c *Client) AvailabilityTopic() string {
	return c.baseTopic() + "/availability"
}

func (c *Client) discoveryTopic(sensorID string) string {
	return c.cfg.DiscoveryPrefix + "/sensor/" + sensorID + "/config"
}

func (c *Client) statusTopic() string {
	return c.cfg.DiscoveryPrefix + "/status"
}

// --- Registration ---

// RegisterSensor publishes the retained discovery config for spec and
// records it in the registration table. The record is only written
// after the publish call returns, and the call fails without
// registering when there is no broker session.
func (c *Client) RegisterSensor(ctx context.Context, spec SensorSpec) error {
	if !c.connected.Load() {
		return fmt.Errorf("register sensor %s: %w", spec.ID, ErrNotConnected)
	}

	sensorCfg := SensorConfig{
		Name:              spec.Name,
		ObjectID:          spec.ID,
		UniqueID:          spec.ID,
		StateTopic:        spec.StateTopic,
		AvailabilityTopic: c.AvailabilityTopic(),
		Device:            c.device,
		Icon:              spec.Icon,
		UnitOfMeasurement: spec.Unit,
		StateClass:        spec.StateClass,
	}
	payload, err := json.Marshal(sensorCfg)
	if err != nil {
		return fmt.Errorf("marshal discovery config for %s: %w", spec.ID, err)
	}

	if err := c.publish(ctx, c.discoveryTopic(spec.ID), payload, 1, true); err != nil {
		return fmt.Errorf("publish discovery config for %s: %w", spec.ID, err)
	}

	c.mu.Lock()
	c.registrations[spec.ID] = registration{config: sensorCfg, stateTopic: spec.StateTopic}
	c.mu.Unlock()

	c.logger.Debug("sensor registered", "sensor_id", spec.ID, "state_topic", spec.StateTopic)
	return nil
}

// UnregisterSensor clears the retained discovery config and removes
// the registration record. A sensor that was never registered is a
// no-op.
func (c *Client) UnregisterSensor(ctx context.Context, sensorID string) error {
	c.mu.Lock()
	_, exists := c.registrations[sensorID]
	c.mu.Unlock()
	if !exists {
		return nil
	}

	if !c.connected.Load() {
		return fmt.Errorf("unregister sensor %s: %w", sensorID, ErrNotConnected)
	}

	if err := c.publish(ctx, c.discoveryTopic(sensorID), nil, 1, true); err != nil {
		return fmt.Errorf("clear discovery config for %s: %w", sensorID, err)
	}

	c.mu.Lock()
	delete(c.registrations, sensorID)
	c.mu.Unlock()

	c.logger.Info("sensor unregistered", "sensor_id", sensorID)
	return nil
}

// Registrations returns the sorted ids of all registered sensors.
func (c *Client) Registrations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.registrations))
	for id := range c.registrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- State publishing ---

// PublishSensorState publishes a single value to the state topic
// recorded at registration, non-retained. It fails when disconnected
// or when the sensor id has no registration record.
func (c *Client) PublishSensorState(ctx context.Context, sensorID string, value any) error {
	if !c.connected.Load() {
		return fmt.Errorf("publish state for %s: %w", sensorID, ErrNotConnected)
	}

	c.mu.Lock()
	reg, ok := c.registrations[sensorID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("publish state for %s: %w", sensorID, ErrNotRegistered)
	}

	payload, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", sensorID, err)
	}

	if err := c.publish(ctx, reg.stateTopic, payload, 0, false); err != nil {
		return fmt.Errorf("publish state for %s: %w", sensorID, err)
	}
	return nil
}

// PublishSensorData publishes every entry of data. All entries are
// attempted regardless of earlier failures; the joined error of every
// failed publish is returned.
func (c *Client) PublishSensorData(ctx context.Context, data map[string]any) error {
	var errs []error
	for sensorID, value := range data {
		if err := c.PublishSensorState(ctx, sensorID, value); err != nil {
			c.logger.Warn("sensor state publish failed", "sensor_id", sensorID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishAvailability publishes the retained process liveness value
// ("online" or "offline"). Failures are logged, not returned; the
// will message covers unexpected disconnects.
func (c *Client) PublishAvailability(ctx context.Context, status string) {
	if err := c.publish(ctx, c.AvailabilityTopic(), []byte(status), 1, true); err != nil {
		c.logger.Warn("availability publish failed", "status", status, "error", err)
		return
	}
	c.logger.Info("availability published", "status", status)
}

// encodeValue serializes a state value: numeric types as plain text,
// everything else as JSON.
func encodeValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	default:
		return json.Marshal(value)
	}
}

// --- Reconnect and hub birth handling ---

// subscribeHubStatus subscribes to the hub's birth/will topic so
// discovery can be replayed when the hub itself restarts.
func (c *Client) subscribeHubStatus(ctx context.Context, cm *autopaho.ConnectionManager) {
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: c.statusTopic(), QoS: 1},
		},
	})
	if err != nil {
		c.logger.Warn("hub status subscribe failed", "topic", c.statusTopic(), "error", err)
		return
	}
	c.logger.Debug("subscribed to hub status", "topic", c.statusTopic())
}

// onMessage handles inbound messages. The only subscription is the hub
// status topic; an "online" payload means the hub restarted and lost
// its in-memory entity state, so the discovery table is replayed.
func (c *Client) onMessage(pr paho.PublishReceived) (bool, error) {
	if pr.Packet.Topic != c.statusTopic() {
		return false, nil
	}
	if string(pr.Packet.Payload) == "online" {
		c.logger.Info("hub birth detected, replaying discovery", "topic", pr.Packet.Topic)
		go c.replayDiscovery(context.Background())
	}
	return true, nil
}

// replayDiscovery re-publishes the retained discovery config for every
// registered sensor. Per-sensor failures are logged and do not stop
// the replay.
func (c *Client) replayDiscovery(ctx context.Context) {
	c.mu.Lock()
	regs := make(map[string]registration, len(c.registrations))
	for id, reg := range c.registrations {
		regs[id] = reg
	}
	c.mu.Unlock()

	for id, reg := range regs {
		payload, err := json.Marshal(reg.config)
		if err != nil {
			c.logger.Error("marshal discovery replay", "sensor_id", id, "error", err)
			continue
		}
		if err := c.publish(ctx, c.discoveryTopic(id), payload, 1, true); err != nil {
			c.logger.Warn("discovery replay failed", "sensor_id", id, "error", err)
		}
	}

	if len(regs) > 0 {
		c.logger.Info("discovery replayed", "sensors", len(regs))
	}
}

// publishPaho is the production publishFunc, riding the autopaho
// connection manager.
func (c *Client) publishPaho(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if c.cm == nil {
		return ErrNotConnected
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	return err
}
