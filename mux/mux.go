// Package mux builds the pion API shared by every peer connection of a
// process: logger, network types, mDNS mode and an optional single-port
// UDP mux.
package mux

import (
	"errors"

	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// WithUDPMux installs a mux on cfg.UDPPort. It is nil where the platform
// has no UDP sockets.
var WithUDPMux func(engine *webrtc.SettingEngine, cfg Config) (ice.UDPMux, error)

var ErrUDPMuxUnsupported = errors.New("udp mux is not supported on this platform")

type Config struct {
	// UDPPort, when set, makes all connections share one UDP port.
	UDPPort uint16
	// NetworkTypes limits candidate gathering. Empty means pion's default.
	NetworkTypes []webrtc.NetworkType
	// DisableMDNS stops hiding host candidates behind .local names.
	DisableMDNS bool

	LoggerFactory logging.LoggerFactory
}

type API struct {
	*webrtc.API
	mux ice.UDPMux
}

func NewAPI(cfg Config) (api *API, err error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		settingEngine.LoggerFactory = cfg.LoggerFactory
	}
	if len(cfg.NetworkTypes) > 0 {
		settingEngine.SetNetworkTypes(cfg.NetworkTypes)
	}
	if cfg.DisableMDNS {
		settingEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	api = &API{}
	if cfg.UDPPort != 0 {
		if WithUDPMux == nil {
			return nil, ErrUDPMuxUnsupported
		}
		if api.mux, err = WithUDPMux(&settingEngine, cfg); err != nil {
			return nil, err
		}
	}
	api.API = webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api, nil
}

// Close releases the shared UDP socket, if any.
func (api *API) Close() error {
	if api.mux == nil {
		return nil
	}
	return api.mux.Close()
}
