package server

import (
	"fmt"
	"strings"

	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/firmware"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
	"github.com/shubhamavl/suspensionpcb-can-go/protocol"
)

// deviceSession bundles the per-connection stack: one adapter, the protocol
// service that owns it, and the firmware transfer bound to that service.
type deviceSession struct {
	adapter can.Adapter
	proto   *protocol.Service
	fw      *firmware.Service
	channel string
}

// buildSession constructs the transport stack for a connect request.
// Channel "sim" selects the simulator; an empty channel triggers serial
// auto-detection.
func buildSession(req ConnectRequest, logger logging.Logger) (*deviceSession, can.Config, error) {
	channel := strings.TrimSpace(req.Channel)

	var adapter can.Adapter
	if channel == "sim" {
		adapter = can.NewSimulator()
	} else {
		if channel == "" {
			channel = can.AutoDetectPort(req.Baud)
			if channel == "" {
				return nil, can.Config{}, fmt.Errorf("could not auto-detect a responding serial port")
			}
		}
		adapter = can.NewSLCAN(logger)
	}

	proto := protocol.NewService(adapter, logger)
	fw := firmware.NewService(proto, logger)
	proto.SetBootStatusHandler(fw.HandleBootFrame)

	return &deviceSession{
		adapter: adapter,
		proto:   proto,
		fw:      fw,
		channel: channel,
	}, can.Config{Channel: channel, Baud: req.Baud, Bitrate: req.Bitrate}, nil
}
