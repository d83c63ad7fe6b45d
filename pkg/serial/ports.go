package serial

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo contains information about a serial port
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts returns the names of the serial ports present, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get ports list: %w", err)
	}
	slices.Sort(ports)
	return ports, nil
}

// GetDetailedPortsList returns detailed information about available serial
// ports, including USB identifiers where the platform exposes them.
func GetDetailedPortsList() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get detailed ports list: %w", err)
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, portInfoFrom(d))
	}
	slices.SortFunc(infos, func(a, b PortInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return infos, nil
}

func portInfoFrom(d *enumerator.PortDetails) PortInfo {
	info := PortInfo{
		Name:         d.Name,
		IsUSB:        d.IsUSB,
		SerialNumber: d.SerialNumber,
		Product:      d.Product,
	}
	if d.IsUSB {
		info.VID = strings.ToLower(d.VID)
		info.PID = strings.ToLower(d.PID)
		info.Description = fmt.Sprintf("USB %s:%s", info.VID, info.PID)
		if d.Product != "" {
			info.Description += " " + d.Product
		}
	}
	return info
}

// IsPortAvailable reports whether the system lists portName.
func IsPortAvailable(portName string) bool {
	ports, err := ListPorts()
	if err != nil {
		return false
	}
	return slices.Contains(ports, portName)
}
