package telemetry

import (
	"fmt"

	"github.com/danielpatrickdp/beam-controller/internal/logging"
)

// #region open
// GatewayConfig selects a Gateway implementation for a daemon.
type GatewayConfig struct {
	Kind     string // "file" or "mqtt"
	DataDir  string // file gateway directory
	Broker   string // mqtt broker URL
	ClientID string // mqtt client id; empty keeps the default
	Log      logging.Logger
}

// OpenGateway builds the configured gateway. The returned close func is
// always safe to call.
func OpenGateway(cfg GatewayConfig) (Gateway, func(), error) {
	switch cfg.Kind {
	case "", "file":
		gw, err := NewFileGateway(DefaultFileConfig(cfg.DataDir))
		if err != nil {
			return nil, func() {}, err
		}
		return gw, func() {}, nil
	case "mqtt":
		mc := DefaultMQTTConfig(cfg.Broker)
		if cfg.ClientID != "" {
			mc.ClientID = cfg.ClientID
		}
		gw, err := NewMQTTGateway(mc, cfg.Log)
		if err != nil {
			return nil, func() {}, err
		}
		return gw, gw.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown gateway kind %q", cfg.Kind)
	}
}

// #endregion open
