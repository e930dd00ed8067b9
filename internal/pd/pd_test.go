package pd_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/pd"
)

func header(msgType string, extended bool) *device.StaticNode {
	return device.NewNode(device.FieldMessageHeader, device.Value{}).
		WithValue(device.FieldMessageType, device.Text(msgType)).
		WithValue(device.FieldExtended, device.Bool(extended))
}

func packet(msgType string, objects ...device.Node) *device.StaticNode {
	return device.NewNode(device.TagPD, device.Value{}).
		With(device.FieldMessageHeader, header(msgType, false)).
		WithValue(device.FieldDataObjects, device.List(objects...))
}

func pdo(summary, bits string) *device.StaticNode {
	n := device.NewNode("Fixed Supply", device.Text("Fixed"))
	n.PDOText = summary
	n.Bits = bits
	return n
}

func emptyPDO() *device.StaticNode {
	return device.NewNode("PDO", device.Text("Empty PDO"))
}

type panicNode struct{ device.StaticNode }

func (panicNode) Get(string) (device.Node, bool) { panic("decoder exploded") }

func TestClassify(t *testing.T) {
	meter := device.NewNode("meter", device.Value{}).
		WithValue(device.FieldVBus, device.Text("5.01V")).
		WithValue(device.FieldCurrent, device.Text("0.5A"))

	cable := packet("Vendor_Defined")
	cable.WithValue(device.FieldSOP, device.Text("SOP'"))

	sopVDM := packet("Vendor_Defined")
	sopVDM.WithValue(device.FieldSOP, device.Text("SOP"))

	tests := []struct {
		name string
		pkt  device.Node
		want pd.Class
	}{
		{"measurement", meter, pd.ClassMeasurement},
		{"source caps", packet("Source_Capabilities"), pd.ClassPDO},
		{"epr source caps", packet("EPR_Source_Capabilities"), pd.ClassPDO},
		{"sink caps", packet("Sink_Capabilities"), 0},
		{"extended source caps", packet("Source_Capabilities_Extended"), 0},
		{"request", packet("Request"), pd.ClassRDO},
		{"epr request", packet("EPR_Request"), pd.ClassRDO},
		{"cable vdm", cable, pd.ClassCable},
		{"port vdm", sopVDM, 0},
		{"accept", packet("Accept"), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pd.Classify(tt.pkt)
			assert.Equal(t, tt.want, got, got.String())
			assert.False(t, got.Has(pd.ClassPDO) && got.Has(pd.ClassRDO))
		})
	}
}

func TestClassifyPanickingDecoder(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Equal(t, pd.Class(0), pd.Classify(&panicNode{}))
	})
}

func TestParsePDOs(t *testing.T) {
	pkt := packet("Source_Capabilities",
		pdo("Fixed: 5.00V 3.00A", strings.Repeat("0", 15)+"11001000100101100"),
		emptyPDO(),
		pdo("Fixed: 9.00V 3.00A", "00000000000000101101000100101100"),
		emptyPDO(),
	)

	entries := pd.ParsePDOs(pkt)
	require.Len(t, entries, 2)

	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
	}
	assert.Equal(t, "Fixed: 5.00V 3.00A", entries[0].Summary)
	assert.Equal(t, "0x0001912C", entries[0].RawHex)
	assert.Equal(t, "0x0002D12C", entries[1].RawHex)
	assert.Equal(t, "Fixed: 5.00V 3.00A | Fixed: 9.00V 3.00A", pd.JoinSummaries(entries))
}

func TestParsePDOsExtendedSlot(t *testing.T) {
	pkt := device.NewNode(device.TagPD, device.Value{}).
		With(device.FieldMessageHeader, header("EPR_Source_Capabilities", true)).
		WithValue(device.FieldDataObjects, device.List(pdo("wrong slot", "1"))).
		WithValue(device.FieldExtendedDataObjects, device.List(pdo("EPR: 28.00V 5.00A", "1111")))

	entries := pd.ParsePDOs(pkt)
	require.Len(t, entries, 1)
	assert.Equal(t, "EPR: 28.00V 5.00A", entries[0].Summary)
	assert.Equal(t, "0xF", entries[0].RawHex)
}

func TestParsePDOsMissingSummary(t *testing.T) {
	entries := pd.ParsePDOs(packet("Source_Capabilities", pdo("", "0001")))
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Summary)
	assert.Empty(t, pd.JoinSummaries(entries))
}

func TestParsePDOsNoObjects(t *testing.T) {
	assert.Empty(t, pd.ParsePDOs(packet("Source_Capabilities")))
	assert.Empty(t, pd.ParsePDOs(&panicNode{}))
}

func TestParseRDO(t *testing.T) {
	obj := device.NewNode("RDO", device.Value{}).
		WithValue(device.FieldObjectPosition, device.Number(2))
	obj.RDOText = "Fixed RDO: Pos 2, 3.00A"
	obj.Bits = "00100000000001001011000100101100"

	info := pd.ParseRDO(packet("Request", obj))
	assert.True(t, info.Valid())
	assert.Equal(t, "Fixed RDO: Pos 2, 3.00A", info.Summary)
	assert.Equal(t, "0x2004B12C", info.RawHex)
	assert.Equal(t, "Position: 2", info.ObjectPosition)
}

func TestParseRDOInvalid(t *testing.T) {
	notRDO := device.NewNode("RDO", device.Value{})

	tests := []struct {
		name string
		pkt  device.Node
	}{
		{"not a rdo", packet("Request", notRDO)},
		{"no objects", packet("Request")},
		{"decoder panic", &panicNode{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := pd.ParseRDO(tt.pkt)
			assert.Equal(t, pd.InvalidRDO, info.Summary)
			assert.False(t, info.Valid())
		})
	}
}

func TestBitsToHex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"000101", "0x05"},
		{"1", "0x1"},
		{"0000", "0x0"},
		{"11111111", "0xFF"},
		{strings.Repeat("1", 72), "0x" + strings.Repeat("F", 18)},
		{"", ""},
		{"10201", ""},
		{"0b101", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pd.BitsToHex(tt.in), tt.in)
	}
}

func TestBitsToHexWidth(t *testing.T) {
	for n := 1; n <= 40; n++ {
		bits := "1" + strings.Repeat("0", n-1)
		out := pd.BitsToHex(bits)
		require.True(t, strings.HasPrefix(out, "0x"))
		assert.Len(t, out, 2+(n+3)/4, bits)
		assert.Equal(t, strings.ToUpper(out[2:]), out[2:])
	}
}

func vdmHeader(command, commandType string) *device.StaticNode {
	return device.NewNode("VDM Header", device.Value{}).
		WithValue("VDM Type", device.Text("Structured")).
		WithValue("Command", device.Text(command)).
		WithValue("Command Type", device.Text(commandType)).
		WithValue("SVID", device.Text("0xFF00"))
}

func cablePacket(sop string, objects ...device.Node) *device.StaticNode {
	pkt := packet("Vendor_Defined", objects...)
	pkt.WithValue(device.FieldSOP, device.Text(sop))
	return pkt
}

func TestParseCablePassive(t *testing.T) {
	id := device.NewNode("ID Header VDO", device.Value{}).
		WithValue("USB Vendor ID", device.Text("0x05ac")).
		WithValue("Product Type (Cable Plug/VPD)", device.Text("Passive Cable"))
	product := device.NewNode("Product VDO", device.Value{}).
		WithValue("USB Product ID", device.Text("0x12ab")).
		WithValue("bcdDevice", device.Text("0x0100"))
	passive := device.NewNode("Passive Cable VDO", device.Value{}).
		WithValue("Maximum VBUS Voltage (Passive Cable)", device.Text("20V")).
		WithValue("VBUS Current Handling Capability (Passive Cable)", device.Text("5A")).
		WithValue("Cable Latency (Passive Cable)", device.Text("")).
		WithValue("EPR Capable (Passive Cable)", device.Bool(true))

	rows := pd.ParseCable(cablePacket("SOP'", vdmHeader("Discover Identity", "ACK"), id,
		device.NewNode("Cert Stat VDO", device.Value{}), product, passive))

	want := []pd.CableRow{
		{Field: pd.CableSVID, Value: "0xFF00"},
		{Field: pd.CableSource, Value: "SOP'"},
		{Field: pd.CableCommand, Value: "Discover Identity (ACK)"},
		{Field: pd.CableVendorID, Value: "0x05AC (Apple)"},
		{Field: pd.CableRole, Value: "Passive Cable"},
		{Field: pd.CableProductID, Value: "0x12AB"},
		{Field: pd.CableDeviceVersion, Value: "0x0100"},
		{Field: pd.CableType, Value: pd.SymbolCablePassive, Symbolic: true},
		{Field: pd.CableMaxVoltage, Value: "20V"},
		{Field: pd.CableCurrent, Value: "5A"},
		{Field: pd.CableSupportsEPR, Value: pd.SymbolTrue, Symbolic: true},
	}
	assert.Equal(t, want, rows)

	for _, r := range rows {
		assert.NotEmpty(t, r.Value, r.Field)
	}
}

func TestParseCableActiveWithSecondary(t *testing.T) {
	active := device.NewNode("Active Cable VDO 1", device.Value{}).
		WithValue("USB Highest Speed (Active Cable)", device.Text("USB4 Gen3")).
		WithValue("SBU Supported", device.Bool(false))
	secondary := device.NewNode("Active Cable VDO 2", device.Value{}).
		WithValue("Maximum Operating Temperature", device.Text("70C")).
		WithValue("USB4 Supported", device.Bool(true))
	vpd := device.NewNode("VPD VDO", device.Value{}).
		WithValue("Ground Impedance", device.Text("10mOhm"))

	rows := pd.ParseCable(cablePacket("SOP''", vdmHeader("Discover Identity", "ACK"), active, secondary, vpd))
	require.NotNil(t, rows)

	var keys []string
	for _, r := range rows {
		keys = append(keys, r.Field)
	}
	assert.Equal(t, []string{
		pd.CableSVID, pd.CableSource, pd.CableCommand, pd.CableType,
		pd.CableHighestSpeed, pd.CableSBU, pd.CableMaxTemp, pd.CableUSB4,
	}, keys)
	assert.Equal(t, pd.SymbolCableActive, rows[3].Value)
	assert.Equal(t, pd.SymbolFalse, rows[5].Value)
}

func TestParseCableRejects(t *testing.T) {
	tests := []struct {
		name string
		pkt  device.Node
	}{
		{"port address", cablePacket("SOP", vdmHeader("Discover Identity", "ACK"))},
		{"nak", cablePacket("SOP'", vdmHeader("Discover Identity", "NAK"))},
		{"other command", cablePacket("SOP'", vdmHeader("Discover SVIDs", "ACK"))},
		{"no header object", cablePacket("SOP'", device.NewNode("ID Header VDO", device.Value{}))},
		{"not vdm", packet("Source_Capabilities")},
		{"decoder panic", &panicNode{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, pd.ParseCable(tt.pkt))
		})
	}
}

func TestVendorName(t *testing.T) {
	tests := []struct {
		in   device.Value
		want string
		ok   bool
	}{
		{device.Text("0x05ac"), "Apple", true},
		{device.Text("0X18D1"), "Google", true},
		{device.Text("291a"), "Anker", true},
		{device.Number(0x8087), "Intel", true},
		{device.Text("0xdead"), "", false},
		{device.Text(""), "", false},
	}

	for _, tt := range tests {
		name, ok := pd.VendorName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in.String())
		assert.Equal(t, tt.want, name)
	}
}
