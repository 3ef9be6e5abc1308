package transport

import (
	"fmt"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial device found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	USB          bool   `json:"usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// ListPorts enumerates serial devices, USB adapters first.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	res := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		res = append(res, portInfo(p))
	}
	for _, p := range ports {
		if p.IsUSB {
			continue
		}
		res = append(res, portInfo(p))
	}
	return res, nil
}

func portInfo(p *enumerator.PortDetails) PortInfo {
	return PortInfo{
		Name:         p.Name,
		USB:          p.IsUSB,
		VID:          p.VID,
		PID:          p.PID,
		SerialNumber: p.SerialNumber,
	}
}
