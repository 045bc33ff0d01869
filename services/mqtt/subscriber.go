package mqttsvc

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
)

var (
	// errors
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrInvalidPayload = errors.New("invalid payload")

	// NewClientFunc builds the broker client. mockable
	NewClientFunc = mqtt.NewClient

	connectTimeout = 10 * time.Second
	ingestTimeout  = 5 * time.Second
)

// Ingester stores a value received on a dashboard field topic.
type Ingester interface {
	IngestMQTT(ctx context.Context, dashboardID, field string, value float64, topic string) (telemetry.DataPoint, error)
}

// Subscriber records the readings devices publish on `<prefix>/<dashboard_id>/<field>[/...]`.
type Subscriber struct {
	client mqtt.Client
	ingest Ingester
	logger core.Logger
	prefix string
	wg     sync.WaitGroup
}

func NewSubscriber(conf *core.Config, ingest Ingester, logger core.Logger) *Subscriber {
	s := &Subscriber{
		ingest: ingest,
		logger: logger,
		prefix: strings.Trim(conf.MQTT.TopicPrefix, "/"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(conf.MQTT.BrokerURL()).
		SetClientID(conf.MQTT.ClientID).
		SetUsername(conf.MQTT.Username).
		SetPassword(conf.MQTT.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", err)
		})
	s.client = NewClientFunc(opts)
	return s
}

// Topics returns the subscribed topic filters.
func (s *Subscriber) Topics() []string {
	return []string{s.prefix + "/+/+", s.prefix + "/+/+/+"}
}

// Start connects to the broker. Subscriptions are (re)made on every connection.
func (s *Subscriber) Start() error {
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("mqtt connect timeout")
	}
	return errors.Wrap(token.Error(), "connecting to mqtt broker")
}

// Stop unsubscribes, waits for the messages being handled and disconnects.
func (s *Subscriber) Stop() {
	if s.client.IsConnected() {
		if token := s.client.Unsubscribe(s.Topics()...); token.WaitTimeout(connectTimeout) && token.Error() != nil {
			s.logger.Warn("mqtt unsubscribe", token.Error())
		}
	}
	s.wg.Wait()
	s.client.Disconnect(250)
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	filters := make(map[string]byte, 2)
	for _, topic := range s.Topics() {
		filters[topic] = 1
	}
	token := c.SubscribeMultiple(filters, s.handleMessage)
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		s.logger.Error("mqtt subscribe", token.Error())
		return
	}
	s.logger.Info("mqtt subscribed", map[string]interface{}{"topics": s.Topics()})
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	if err := s.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
		s.logger.Warn("mqtt message dropped", err, map[string]interface{}{"topic": msg.Topic()})
	}
}

// Handle records a single message.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) error {
	dashboardID, field, err := ParseTopic(s.prefix, topic)
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return errors.Wrapf(ErrInvalidPayload, "%q", payload)
	}
	_, err = s.ingest.IngestMQTT(ctx, dashboardID, field, value, topic)
	return err
}

// ParseTopic extracts the dashboard ID and field name of `<prefix>/<dashboard_id>/<field>[/...]`.
func ParseTopic(prefix, topic string) (dashboardID, field string, err error) {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if rest == topic {
		return "", "", errors.Wrap(ErrInvalidTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Wrap(ErrInvalidTopic, topic)
	}
	return parts[0], parts[1], nil
}
