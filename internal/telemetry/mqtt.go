package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/danielpatrickdp/beam-controller/internal/logging"
)

// #region mqtt-config
// MQTTConfig configures the broker-backed gateway.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	RadarTopic     string
	CommTopic      string
	CommandTopic   string
	DecisionTopic  string
	PlotTopic      string
	StatusTopic    string
	QoS            byte
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

// DefaultMQTTConfig returns topic names under beam/.
func DefaultMQTTConfig(broker string) MQTTConfig {
	return MQTTConfig{
		Broker:         broker,
		ClientID:       "beam-controller",
		RadarTopic:     "beam/radar",
		CommTopic:      "beam/comm",
		CommandTopic:   "beam/packet",
		DecisionTopic:  "beam/decision",
		PlotTopic:      "beam/plot",
		StatusTopic:    "beam/controller/status",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// #endregion mqtt-config

// #region mqtt-gateway
// MQTTGateway subscribes to radar and comm topics, keeps the newest message
// of each, and publishes commands as JSON. Loads never block on the network.
type MQTTGateway struct {
	client mqtt.Client
	cfg    MQTTConfig
	log    logging.Logger

	mu    sync.Mutex
	radar *RadarMeasurement
	comm  *CommMeasurement
}

// NewMQTTGateway connects to the broker and subscribes to the telemetry topics.
// It fails if the first subscription is not acknowledged. A nil log discards
// gateway warnings.
func NewMQTTGateway(cfg MQTTConfig, log logging.Logger) (*MQTTGateway, error) {
	g := &MQTTGateway{cfg: cfg, log: orNoop(log)}
	subscribed := make(chan error, 1)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			// resubscribe after every (re)connect; sessions are not persisted
			err := g.subscribe(c)
			if err != nil {
				g.log.Warn(context.Background(), "mqtt subscribe failed",
					logging.String("broker", cfg.Broker), logging.Err(err))
			}
			select {
			case subscribed <- err:
			default:
			}
		})
	opts.SetWill(cfg.StatusTopic, "offline", cfg.QoS, true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.PublishTimeout) {
		// stops the background connect retry
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	// subscribe waits on three tokens
	select {
	case err := <-subscribed:
		if err != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("mqtt %s: %w", cfg.Broker, err)
		}
	case <-time.After(3 * cfg.PublishTimeout):
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt %s: subscribe timed out", cfg.Broker)
	}
	g.client = client
	return g, nil
}

// NewMQTTGatewayWithClient wraps an existing client without subscribing.
// Used for testing with a stub client.
func NewMQTTGatewayWithClient(client mqtt.Client, cfg MQTTConfig, log logging.Logger) *MQTTGateway {
	return &MQTTGateway{client: client, cfg: cfg, log: orNoop(log)}
}

// subscribe registers both telemetry handlers and announces the gateway online.
func (g *MQTTGateway) subscribe(c mqtt.Client) error {
	if err := g.wait("subscribe "+g.cfg.RadarTopic, c.Subscribe(g.cfg.RadarTopic, g.cfg.QoS, g.handleRadar)); err != nil {
		return err
	}
	if err := g.wait("subscribe "+g.cfg.CommTopic, c.Subscribe(g.cfg.CommTopic, g.cfg.QoS, g.handleComm)); err != nil {
		return err
	}
	return g.wait("publish "+g.cfg.StatusTopic, c.Publish(g.cfg.StatusTopic, g.cfg.QoS, true, "online"))
}

func (g *MQTTGateway) wait(what string, token mqtt.Token) error {
	if !token.WaitTimeout(g.cfg.PublishTimeout) {
		return fmt.Errorf("%s: timed out after %s", what, g.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func orNoop(log logging.Logger) logging.Logger {
	if log == nil {
		return logging.Noop()
	}
	return log
}

// Close publishes an offline status and disconnects.
func (g *MQTTGateway) Close() {
	if g.client == nil {
		return
	}
	g.client.Publish(g.cfg.StatusTopic, g.cfg.QoS, true, "offline").WaitTimeout(g.cfg.PublishTimeout)
	g.client.Disconnect(250)
}

// #endregion mqtt-gateway

// #region mqtt-handlers
func (g *MQTTGateway) handleRadar(_ mqtt.Client, msg mqtt.Message) {
	var r RadarMeasurement
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		g.log.Warn(context.Background(), "malformed radar message dropped",
			logging.String("topic", msg.Topic()), logging.Err(err))
		return
	}
	g.mu.Lock()
	g.radar = &r
	g.mu.Unlock()
}

func (g *MQTTGateway) handleComm(_ mqtt.Client, msg mqtt.Message) {
	var c CommMeasurement
	if err := json.Unmarshal(msg.Payload(), &c); err != nil {
		g.log.Warn(context.Background(), "malformed comm message dropped",
			logging.String("topic", msg.Topic()), logging.Err(err))
		return
	}
	g.mu.Lock()
	g.comm = &c
	g.mu.Unlock()
}

// #endregion mqtt-handlers

// #region mqtt-io
// LoadLatestRadar returns the newest unread radar message or ErrNoData.
func (g *MQTTGateway) LoadLatestRadar(ctx context.Context) (RadarMeasurement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.radar == nil {
		return RadarMeasurement{}, ErrNoData
	}
	r := *g.radar
	g.radar = nil
	return r, nil
}

// LoadLatestComm returns the newest unread comm message or ErrNoData.
func (g *MQTTGateway) LoadLatestComm(ctx context.Context) (CommMeasurement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.comm == nil {
		return CommMeasurement{}, ErrNoData
	}
	c := *g.comm
	g.comm = nil
	return c, nil
}

// EmitPacketCommand publishes cmd on the command topic.
func (g *MQTTGateway) EmitPacketCommand(ctx context.Context, cmd PacketCommand) error {
	return g.publish(g.cfg.CommandTopic, cmd)
}

// EmitRadarDecision publishes d on the decision topic.
func (g *MQTTGateway) EmitRadarDecision(ctx context.Context, d RadarDecision) error {
	return g.publish(g.cfg.DecisionTopic, d)
}

// AppendPlotSample publishes s on the plot topic at QoS 0.
func (g *MQTTGateway) AppendPlotSample(ctx context.Context, s PlotSample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal plot sample: %w", err)
	}
	g.client.Publish(g.cfg.PlotTopic, 0, false, payload)
	return nil
}

func (g *MQTTGateway) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return g.wait("publish "+topic, g.client.Publish(topic, g.cfg.QoS, false, payload))
}

// #endregion mqtt-io
