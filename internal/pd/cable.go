package pd

import (
	"strings"

	"codeberg.org/mutker/pdctl/internal/device"
)

// Cable row keys.
const (
	CableSVID                 = "cable_svid"
	CableSource               = "cable_source"
	CableCommand              = "cable_command"
	CableVendorID             = "cable_vendor_id"
	CableRole                 = "cable_role"
	CableProductID            = "cable_product_id"
	CableDeviceVersion        = "cable_device_version"
	CableType                 = "cable_type"
	CableConnector            = "cable_connector"
	CableTermination          = "cable_termination"
	CableMaxVoltage           = "cable_max_voltage"
	CableCurrent              = "cable_current"
	CableHighestSpeed         = "cable_highest_speed"
	CableLatency              = "cable_latency"
	CableSupportsEPR          = "cable_supports_epr"
	CableSBU                  = "cable_sbu"
	CableMaxTemp              = "cable_max_temp"
	CableShutdownTemp         = "cable_shutdown_temp"
	CableUSB4                 = "cable_usb4"
	CableChargeThrough        = "cable_charge_through"
	CableChargeThroughCurrent = "cable_charge_through_current"
	CableVBusImpedance        = "cable_vbus_impedance"
	CableGroundImpedance      = "cable_ground_impedance"
)

// Symbolic values.
const (
	SymbolCablePassive = "cable_type_passive"
	SymbolCableActive  = "cable_type_active"
	SymbolCableVPD     = "cable_type_vpd"
	SymbolTrue         = "bool_true"
	SymbolFalse        = "bool_false"
)

const (
	sopPrime       = "SOP'"
	sopDoublePrime = "SOP''"

	commandLabel = "Discover Identity (ACK)"

	vdmHeader     = "VDM Header"
	idHeaderVDO   = "ID Header VDO"
	productVDO    = "Product VDO"
	passiveVDO    = "Passive Cable VDO"
	activeVDO1    = "Active Cable VDO 1"
	activeVDO2    = "Active Cable VDO 2"
	vpdVDO        = "VPD VDO"
	fieldRole     = "Product Type (Cable Plug/VPD)"
	fieldVendorID = "USB Vendor ID"
)

type cableField struct {
	key  string
	name string
}

var passiveFields = []cableField{
	{CableConnector, "USB Type-C plug to USB Type-C/Captive (Passive Cable)"},
	{CableTermination, "Cable Termination Type (Passive Cable)"},
	{CableMaxVoltage, "Maximum VBUS Voltage (Passive Cable)"},
	{CableCurrent, "VBUS Current Handling Capability (Passive Cable)"},
	{CableHighestSpeed, "USB Highest Speed (Passive Cable)"},
	{CableLatency, "Cable Latency (Passive Cable)"},
	{CableSupportsEPR, "EPR Capable (Passive Cable)"},
}

var activeFields = []cableField{
	{CableConnector, "USB Type-C plug to USB Type-C/Captive"},
	{CableTermination, "Cable Termination Type (Active Cable)"},
	{CableMaxVoltage, "Maximum VBUS Voltage (Active Cable)"},
	{CableCurrent, "VBUS Current Handling Capability (Active Cable)"},
	{CableHighestSpeed, "USB Highest Speed (Active Cable)"},
	{CableSupportsEPR, "EPR Capable (Active Cable)"},
	{CableSBU, "SBU Supported"},
}

var activeSecondaryFields = []cableField{
	{CableMaxTemp, "Maximum Operating Temperature"},
	{CableShutdownTemp, "Shutdown Temperature"},
	{CableUSB4, "USB4 Supported"},
}

var vpdFields = []cableField{
	{CableMaxVoltage, "Maximum VBUS Voltage"},
	{CableChargeThrough, "Charge Through Support"},
	{CableChargeThroughCurrent, "Charge Through Current Support"},
	{CableVBusImpedance, "VBUS Impedance"},
	{CableGroundImpedance, "Ground Impedance"},
}

// ParseCable extracts cable identity from a Discover Identity ACK addressed
// to a cable plug. Any other packet yields nil.
func ParseCable(pkt device.Node) []CableRow {
	if !isCablePlugVDM(pkt) {
		return nil
	}

	objects := valueAt(pkt, device.FieldDataObjects).Nodes()
	if len(objects) == 0 || fieldOf(objects[0]) != vdmHeader {
		return nil
	}

	header := objects[0]
	if text(header, "VDM Type") != "Structured" ||
		text(header, "Command") != "Discover Identity" ||
		text(header, "Command Type") != "ACK" {
		return nil
	}

	sop := text(pkt, device.FieldSOP)

	var rows rowBuilder
	rows.add(CableSVID, text(header, "SVID"))
	rows.add(CableSource, sop)
	rows.add(CableCommand, commandLabel)

	if id := findObject(objects, idHeaderVDO); id != nil {
		vid := valueAt(id, fieldVendorID)
		if display := upperHex(vid.String()); display != "" {
			if name, ok := VendorName(vid); ok {
				display += " (" + name + ")"
			}
			rows.add(CableVendorID, display)
		}
		if sop == sopPrime || sop == sopDoublePrime {
			rows.add(CableRole, text(id, fieldRole))
		}
	}

	if product := findObject(objects, productVDO); product != nil {
		rows.add(CableProductID, upperHex(text(product, "USB Product ID")))
		rows.add(CableDeviceVersion, upperHex(text(product, "bcdDevice")))
	}

	if passive := findObject(objects, passiveVDO); passive != nil {
		rows.symbol(CableType, SymbolCablePassive)
		rows.fields(passive, passiveFields)
	} else if active := findObject(objects, activeVDO1); active != nil {
		rows.symbol(CableType, SymbolCableActive)
		rows.fields(active, activeFields)
		if secondary := findObject(objects, activeVDO2); secondary != nil {
			rows.fields(secondary, activeSecondaryFields)
		}
	} else if vpd := findObject(objects, vpdVDO); vpd != nil {
		rows.symbol(CableType, SymbolCableVPD)
		rows.fields(vpd, vpdFields)
	}

	if len(rows) == 0 {
		return nil
	}

	return rows
}

func isCablePlugVDM(pkt device.Node) bool {
	if MessageType(pkt) != "vendor defined" {
		return false
	}

	sop := text(pkt, device.FieldSOP)
	return sop == sopPrime || sop == sopDoublePrime
}

func findObject(objects []device.Node, name string) device.Node {
	for _, obj := range objects {
		if obj != nil && fieldOf(obj) == name {
			return obj
		}
	}

	return nil
}

func text(n device.Node, path ...string) string {
	return strings.TrimSpace(valueAt(n, path...).String())
}

type rowBuilder []CableRow

func (b *rowBuilder) add(key, value string) {
	if value = strings.TrimSpace(value); value == "" {
		return
	}
	*b = append(*b, CableRow{Field: key, Value: value})
}

func (b *rowBuilder) symbol(key, sym string) {
	*b = append(*b, CableRow{Field: key, Value: sym, Symbolic: true})
}

func (b *rowBuilder) fields(obj device.Node, fields []cableField) {
	for _, f := range fields {
		v := valueAt(obj, f.name)
		if v.Kind() == device.KindBool {
			flag, _ := v.AsBool()
			if flag {
				b.symbol(f.key, SymbolTrue)
			} else {
				b.symbol(f.key, SymbolFalse)
			}
			continue
		}
		b.add(f.key, v.String())
	}
}
