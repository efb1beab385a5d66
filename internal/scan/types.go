package scan

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the probe set of a default scan.
type Mode string

const (
	ModeQuick Mode = "quick"
	// ModeDeep currently runs the same probes as ModeQuick.
	ModeDeep Mode = "deep"
)

// ParseMode validates a mode name given on the command line.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeQuick:
		return ModeQuick, nil
	case ModeDeep:
		return ModeDeep, nil
	default:
		return "", fmt.Errorf("%w: unknown scan mode %q (want quick or deep)", ErrInvalidArgument, value)
	}
}

// Status is the classification of a single port probe.
type Status string

const (
	StatusActive        Status = "Active"
	StatusInactive      Status = "Inactive"
	StatusTimeout       Status = "Timeout"
	StatusError         Status = "Error"
	StatusNotApplicable Status = "N/A"
)

// Result is the outcome of a default scan for a single live host.
type Result struct {
	Address string `json:"address"`
	SSDP    bool   `json:"ssdp"`
	MDNS    bool   `json:"mdns"`
	ADB     bool   `json:"adb"`
}

// PortStatus is one classified column of a custom scan.
type PortStatus struct {
	Port   uint16 `json:"port"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// CustomResult holds the per-port statuses of one host in the order the ports were requested.
type CustomResult struct {
	Address string       `json:"address"`
	Ports   []PortStatus `json:"ports"`
}

// Phase is a step of a scan run.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseLivenessSweep
	PhasePerHostFanout
	PhaseAggregate
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseLivenessSweep:
		return "liveness-sweep"
	case PhasePerHostFanout:
		return "per-host-fanout"
	case PhaseAggregate:
		return "aggregate"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress is reported to observers on every phase transition.
type Progress struct {
	Phase   Phase
	Targets int
	Live    int
}

var (
	// ErrInvalidArgument marks malformed caller input such as a bad port list.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSubnet indicates the local /24 could not be derived.
	ErrNoSubnet = errors.New("cannot determine local subnet")
)
