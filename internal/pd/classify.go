package pd

import (
	"strings"

	"codeberg.org/mutker/pdctl/internal/device"
)

// Class is a set of categories a packet belongs to. PDO and RDO are
// mutually exclusive; the rest may combine.
type Class uint8

const (
	ClassMeasurement Class = 1 << iota
	ClassPDO
	ClassRDO
	ClassCable
)

func (c Class) Has(flag Class) bool {
	return c&flag != 0
}

func (c Class) IsProtocol() bool {
	return c.Has(ClassPDO) || c.Has(ClassRDO) || c.Has(ClassCable)
}

func (c Class) String() string {
	var parts []string
	if c.Has(ClassMeasurement) {
		parts = append(parts, "measurement")
	}
	if c.Has(ClassPDO) {
		parts = append(parts, "pdo")
	}
	if c.Has(ClassRDO) {
		parts = append(parts, "rdo")
	}
	if c.Has(ClassCable) {
		parts = append(parts, "cable")
	}
	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// Classify inspects a decoded packet. A nil packet has no class.
func Classify(pkt device.Node) Class {
	if pkt == nil {
		return 0
	}

	var c Class

	if IsMeasurement(pkt) {
		c |= ClassMeasurement
	}

	switch {
	case IsSourceCapabilities(pkt):
		c |= ClassPDO
	case IsRequest(pkt):
		c |= ClassRDO
	}

	if isCablePlugVDM(pkt) {
		c |= ClassCable
	}

	return c
}

// IsMeasurement reports whether pkt is a meter report carrying VBus or
// Current readings rather than protocol traffic.
func IsMeasurement(pkt device.Node) bool {
	if fieldOf(pkt) == device.TagPD {
		return false
	}

	return !valueAt(pkt, device.FieldVBus).IsZero() || !valueAt(pkt, device.FieldCurrent).IsZero()
}

// MessageType returns the header message type normalized to lower case words,
// e.g. "Source_Capabilities" becomes "source capabilities".
func MessageType(pkt device.Node) string {
	mt := valueAt(pkt, device.FieldMessageHeader, device.FieldMessageType).String()
	mt = strings.NewReplacer("_", " ", "-", " ").Replace(mt)

	return strings.Join(strings.Fields(strings.ToLower(mt)), " ")
}

// IsSinkCapabilities matches Sink_Capabilities and its EPR variant, which
// carry PDO shaped objects that are not offers.
func IsSinkCapabilities(pkt device.Node) bool {
	mt := MessageType(pkt)
	return strings.Contains(mt, "sink") && strings.Contains(mt, "cap")
}

// IsSourceCapabilities matches Source_Capabilities and EPR_Source_Capabilities.
func IsSourceCapabilities(pkt device.Node) bool {
	mt := MessageType(pkt)
	if IsSinkCapabilities(pkt) || strings.Contains(mt, "extended") {
		return false
	}

	return strings.Contains(mt, "source") && strings.Contains(mt, "cap")
}

// IsRequest matches Request and EPR_Request messages
func IsRequest(pkt device.Node) bool {
	mt := MessageType(pkt)
	return mt == "request" || mt == "epr request"
}
