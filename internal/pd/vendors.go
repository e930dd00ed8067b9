package pd

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/pdctl/internal/device"
)

// usbVendors maps USB-IF vendor IDs seen on cables and chargers to names.
var usbVendors = map[uint16]string{
	0x03F0: "HP",
	0x0424: "Microchip",
	0x045E: "Microsoft",
	0x0451: "Texas Instruments",
	0x046D: "Logitech",
	0x04B4: "Cypress",
	0x04E8: "Samsung",
	0x050D: "Belkin",
	0x054C: "Sony",
	0x05AC: "Apple",
	0x05E3: "Genesys Logic",
	0x0781: "SanDisk",
	0x0951: "Kingston",
	0x0B05: "ASUS",
	0x0B95: "ASIX",
	0x0BDA: "Realtek",
	0x12D1: "Huawei",
	0x1532: "Razer",
	0x17EF: "Lenovo",
	0x18D1: "Google",
	0x1A86: "WCH",
	0x1D5C: "Fresco Logic",
	0x2109: "VIA Labs",
	0x22B8: "Motorola",
	0x2717: "Xiaomi",
	0x291A: "Anker",
	0x413C: "Dell",
	0x8087: "Intel",
}

// VendorName resolves a vendor ID value. Numbers are used as is; text is
// tried as hex with and without a 0x prefix, then as decimal.
func VendorName(v device.Value) (string, bool) {
	for _, id := range vidCandidates(v) {
		if name, ok := usbVendors[id]; ok {
			return name, true
		}
	}

	return "", false
}

func vidCandidates(v device.Value) []uint16 {
	if v.Kind() == device.KindNumber {
		f, _ := v.AsFloat()
		if f < 0 || f > 0xFFFF {
			return nil
		}
		return []uint16{uint16(f)}
	}

	text := strings.TrimSpace(v.String())
	if text == "" {
		return nil
	}

	var out []uint16
	trimmed := strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	if id, err := strconv.ParseUint(trimmed, 16, 16); err == nil {
		out = append(out, uint16(id))
	}
	if trimmed == text {
		if id, err := strconv.ParseUint(text, 10, 16); err == nil {
			out = append(out, uint16(id))
		}
	}

	return out
}

// upperHex renders hex-looking text as 0x followed by upper-case digits.
func upperHex(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") {
		return "0x" + strings.ToUpper(s[2:])
	}

	return strings.ToUpper(s)
}
