package commandstation

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	core "github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/model"
	"github.com/kilianp07/trackpilot/core/monitoring"
	"github.com/kilianp07/trackpilot/infra/logger"
)

// MQTTConfig defines the connection to the command station gateway.
type MQTTConfig struct {
	Broker      string      `json:"broker"`
	ClientID    string      `json:"client_id"`
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	TopicPrefix string      `json:"topic_prefix"`
	UseTLS      bool        `json:"use_tls"`
	ClientCert  string      `json:"client_cert"`
	ClientKey   string      `json:"client_key"`
	CABundle    string      `json:"ca_bundle"`
	QoS         byte        `json:"qos"`
	MaxRetries  int         `json:"max_retries"`
	BackoffMS   int         `json:"backoff_ms"`
	TLSConfig   *tls.Config `json:"-"`
}

// SetDefaults fills zero values.
func (c *MQTTConfig) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "trackpilot"
	}
	if c.ClientID == "" {
		c.ClientID = "trackpilot"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the broker address and QoS.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c MQTTConfig) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// NewClientOptions builds paho client options from the config.
func NewClientOptions(cfg MQTTConfig) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// SensorMessage is the payload published by the gateway on <prefix>/sensor/<id>.
type SensorMessage struct {
	DeviceID  int   `json:"device_id"`
	ContactID int   `json:"contact_id"`
	Active    bool  `json:"active"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// PowerMessage is the payload of <prefix>/power and <prefix>/power/state.
type PowerMessage struct {
	CommandID string `json:"command_id,omitempty"`
	On        bool   `json:"on"`
	Timestamp int64  `json:"timestamp"`
}

// VelocityMessage is published on <prefix>/loco/<address>/velocity.
type VelocityMessage struct {
	CommandID string            `json:"command_id"`
	Decoder   model.DecoderType `json:"decoder"`
	Velocity  int               `json:"velocity"`
	Timestamp int64             `json:"timestamp"`
}

// DirectionMessage is published on <prefix>/loco/<address>/direction.
type DirectionMessage struct {
	CommandID string            `json:"command_id"`
	Decoder   model.DecoderType `json:"decoder"`
	Direction model.Direction   `json:"direction"`
	Timestamp int64             `json:"timestamp"`
}

// AccessoryMessage is published on <prefix>/accessory/<address>.
type AccessoryMessage struct {
	CommandID string               `json:"command_id"`
	Decoder   model.DecoderType    `json:"decoder"`
	Value     model.AccessoryValue `json:"value"`
	Timestamp int64                `json:"timestamp"`
}

// MQTTStation bridges the Command Station interface to an MQTT gateway.
type MQTTStation struct {
	cli        pahoClient
	prefix     string
	qos        byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger

	mu    sync.Mutex
	power bool

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int

	// sensors is drained by a single goroutine so listeners run in arrival
	// order and never inside a paho message handler.
	sensors  chan core.SensorEvent
	stop     chan struct{}
	stopOnce sync.Once
}

var _ core.CommandStation = (*MQTTStation)(nil)

const sensorQueueSize = 256

// NewMQTTStation connects to the broker and subscribes to sensor and power
// state topics.
func NewMQTTStation(cfg MQTTConfig, log logger.Logger) (*MQTTStation, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New(logger.ComponentCommandStation)
	}
	s := &MQTTStation{
		prefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
		sensors:    make(chan core.SensorEvent, sensorQueueSize),
		stop:       make(chan struct{}),
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(s.prefix+"/sensor/+", s.qos, s.onSensor); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe sensors: %v", token.Error())
		}
		if token := c.Subscribe(s.prefix+"/power/state", s.qos, s.onPowerState); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe power state: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	go s.dispatchSensors()
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		s.stopOnce.Do(func() { close(s.stop) })
		return nil, token.Error()
	}
	s.cli = c
	return s, nil
}

func (s *MQTTStation) dispatchSensors() {
	for {
		select {
		case <-s.stop:
			return
		case e := <-s.sensors:
			s.lmu.Lock()
			ls := s.listeners
			s.lmu.Unlock()
			for _, l := range ls {
				l.fn(e)
			}
		}
	}
}

func (s *MQTTStation) onSensor(_ paho.Client, msg paho.Message) {
	var m SensorMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		s.log.Errorf("decode sensor message on %s: %v", msg.Topic(), err)
		return
	}
	e := core.SensorEvent{DeviceID: m.DeviceID, ContactID: m.ContactID, Active: m.Active, Time: time.Now()}
	if m.Timestamp > 0 {
		e.Time = time.UnixMilli(m.Timestamp)
	}
	s.log.Debugw("sensor event", map[string]any{"sensor": e.SensorID(), "active": e.Active})
	select {
	case s.sensors <- e:
	default:
		err := fmt.Errorf("sensor queue full, dropped %s", e.SensorID())
		s.log.Errorf("%v", err)
		monitoring.CaptureException(err, map[string]string{"module": "commandstation", "sensor_id": e.SensorID()})
	}
}

func (s *MQTTStation) onPowerState(_ paho.Client, msg paho.Message) {
	var m PowerMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		s.log.Errorf("decode power state: %v", err)
		return
	}
	s.mu.Lock()
	s.power = m.On
	s.mu.Unlock()
	s.log.Infof("track power reported %v", m.On)
}

func (s *MQTTStation) publish(topic string, v any) error {
	if s.cli == nil || !s.cli.IsConnected() {
		return core.ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		token := s.cli.Publish(topic, s.qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			s.log.Debugf("published %s", topic)
			return nil
		}
		s.log.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt < s.maxRetries {
			time.Sleep(s.backoff * time.Duration(1<<attempt))
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "commandstation", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

func (s *MQTTStation) SwitchPower(on bool) error {
	err := s.publish(s.prefix+"/power", PowerMessage{CommandID: uuid.NewString(), On: on, Timestamp: time.Now().UnixMilli()})
	if err != nil && on {
		return err
	}
	// Power off is recorded even when the command could not be delivered so
	// the autopilot never assumes a live track.
	s.mu.Lock()
	s.power = on
	s.mu.Unlock()
	return err
}

func (s *MQTTStation) IsPowerOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

func (s *MQTTStation) ChangeVelocity(address int, decoder model.DecoderType, velocity int) error {
	return s.publish(fmt.Sprintf("%s/loco/%d/velocity", s.prefix, address), VelocityMessage{
		CommandID: uuid.NewString(),
		Decoder:   decoder,
		Velocity:  model.ClampVelocity(velocity),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *MQTTStation) ChangeDirection(address int, decoder model.DecoderType, direction model.Direction) error {
	return s.publish(fmt.Sprintf("%s/loco/%d/direction", s.prefix, address), DirectionMessage{
		CommandID: uuid.NewString(),
		Decoder:   decoder,
		Direction: direction,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *MQTTStation) SwitchAccessory(address int, decoder model.DecoderType, value model.AccessoryValue) error {
	return s.publish(fmt.Sprintf("%s/accessory/%d", s.prefix, address), AccessoryMessage{
		CommandID: uuid.NewString(),
		Decoder:   decoder,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *MQTTStation) AddSensorEventListener(l core.SensorEventListener) (remove func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Disconnect stops sensor dispatch and gracefully closes the MQTT connection.
func (s *MQTTStation) Disconnect() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
}
