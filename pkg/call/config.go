package call

import (
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/logger"
)

const portRangeLimit = 100

// ICEServerConfig defines parameters for ice servers
type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// DefaultICEServers is the public STUN server used when none is configured.
var DefaultICEServers = []ICEServerConfig{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// WebRTCConfig defines parameters for ice
type WebRTCConfig struct {
	ICEPortRange []uint16          `mapstructure:"portrange"`
	ICEServers   []ICEServerConfig `mapstructure:"iceserver"`
	SDPSemantics string            `mapstructure:"sdpsemantics"`
	NAT1To1IPs   []string          `mapstructure:"nat1to1"`
}

// TransportConfig is everything needed to create peer connections.
type TransportConfig struct {
	Configuration webrtc.Configuration
	Setting       webrtc.SettingEngine
	// Codecs registers codecs on a fresh media engine. Nil registers pion's
	// defaults.
	Codecs func(m *webrtc.MediaEngine) error
}

// NewTransportConfig parses our settings and returns a usable TransportConfig
// for creating PeerConnections.
func NewTransportConfig(c WebRTCConfig) (TransportConfig, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: logger.NewPionLoggerFactory(Logger),
	}

	if len(c.ICEPortRange) != 0 && len(c.ICEPortRange) != 2 {
		return TransportConfig{}, fmt.Errorf("portrange needs exactly two ports, got %v", c.ICEPortRange)
	}
	if len(c.ICEPortRange) == 2 && (c.ICEPortRange[0] != 0 || c.ICEPortRange[1] != 0) {
		start, end := c.ICEPortRange[0], c.ICEPortRange[1]
		if end < start || end-start < portRangeLimit {
			return TransportConfig{}, fmt.Errorf("portrange [%d, %d] must span at least %d ports", start, end, portRangeLimit)
		}
		if err := se.SetEphemeralUDPPortRange(start, end); err != nil {
			return TransportConfig{}, err
		}
	}

	servers := c.ICEServers
	if servers == nil {
		servers = DefaultICEServers
	}
	var iceServers []webrtc.ICEServer
	for _, s := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	sdpSemantics := webrtc.SDPSemanticsUnifiedPlan
	switch c.SDPSemantics {
	case "", "unified-plan":
	case "unified-plan-with-fallback":
		sdpSemantics = webrtc.SDPSemanticsUnifiedPlanWithFallback
	case "plan-b":
		sdpSemantics = webrtc.SDPSemanticsPlanB
	default:
		return TransportConfig{}, fmt.Errorf("unknown sdpsemantics %q", c.SDPSemantics)
	}

	if len(c.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(c.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	return TransportConfig{
		Configuration: webrtc.Configuration{
			ICEServers:   iceServers,
			SDPSemantics: sdpSemantics,
		},
		Setting: se,
	}, nil
}
