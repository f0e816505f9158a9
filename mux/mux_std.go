//go:build !(js || wasip1)

package mux

import (
	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
)

func init() {
	WithUDPMux = func(engine *webrtc.SettingEngine, cfg Config) (mux ice.UDPMux, err error) {
		var opts []ice.UDPMuxFromPortOption
		if cfg.LoggerFactory != nil {
			opts = append(opts, ice.UDPMuxFromPortWithLogger(cfg.LoggerFactory.NewLogger("udpmux")))
		}
		if networks := udpNetworks(cfg.NetworkTypes); len(networks) > 0 {
			opts = append(opts, ice.UDPMuxFromPortWithNetworks(networks...))
		}
		if mux, err = ice.NewMultiUDPMuxFromPort(int(cfg.UDPPort), opts...); err != nil {
			return
		}
		engine.SetICEUDPMux(mux)
		return
	}
}

// udpNetworks keeps the udp entries of types. Empty means all.
func udpNetworks(types []webrtc.NetworkType) (networks []ice.NetworkType) {
	for _, t := range types {
		switch t {
		case webrtc.NetworkTypeUDP4:
			networks = append(networks, ice.NetworkTypeUDP4)
		case webrtc.NetworkTypeUDP6:
			networks = append(networks, ice.NetworkTypeUDP6)
		}
	}
	return
}
