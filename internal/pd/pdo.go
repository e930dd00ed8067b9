package pd

import (
	"math/big"
	"strings"

	"codeberg.org/mutker/pdctl/internal/device"
)

const emptyPDO = "Empty PDO"

// ParsePDOs extracts the advertised objects of a (EPR) Source_Capabilities
// packet. Placeholder objects are skipped and positions count emitted
// entries from 1.
func ParsePDOs(pkt device.Node) []PDOEntry {
	slot := device.FieldDataObjects
	if ext, ok := valueAt(pkt, device.FieldMessageHeader, device.FieldExtended).AsBool(); ok && ext {
		slot = device.FieldExtendedDataObjects
	}

	objects := valueAt(pkt, slot).Nodes()
	if len(objects) == 0 {
		return nil
	}

	entries := make([]PDOEntry, 0, len(objects))
	for _, obj := range objects {
		if obj == nil || isEmptyPDO(obj) {
			continue
		}

		entries = append(entries, PDOEntry{
			Position: len(entries) + 1,
			Summary:  quickPDO(obj),
			RawHex:   BitsToHex(rawOf(obj)),
		})
	}

	return entries
}

// JoinSummaries joins the non-blank entry summaries with " | ".
func JoinSummaries(entries []PDOEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if s := strings.TrimSpace(e.Summary); s != "" {
			parts = append(parts, s)
		}
	}

	return strings.Join(parts, " | ")
}

// ParseRDO decodes the first data object of a Request packet.
func ParseRDO(pkt device.Node) RDOInfo {
	objects := valueAt(pkt, device.FieldDataObjects).Nodes()
	if len(objects) == 0 || objects[0] == nil {
		return RDOInfo{Summary: InvalidRDO}
	}

	target := objects[0]
	summary := quickRDO(target)
	if summary == "" || summary == device.NotRDO {
		summary = InvalidRDO
	}

	info := RDOInfo{
		Summary: summary,
		RawHex:  BitsToHex(rawOf(target)),
	}

	if pos := valueAt(target, device.FieldObjectPosition); !pos.IsZero() {
		info.ObjectPosition = "Position: " + strings.TrimSpace(pos.String())
	}

	return info
}

// BitsToHex renders a binary digit string as "0x" followed by upper-case hex,
// zero padded to ceil(len/4) digits. Blank or non-binary input yields "".
func BitsToHex(bits string) string {
	bits = strings.TrimSpace(bits)
	if bits == "" || strings.Trim(bits, "01") != "" {
		return ""
	}

	n, ok := new(big.Int).SetString(bits, 2)
	if !ok {
		return ""
	}

	digits := strings.ToUpper(n.Text(16))
	if width := (len(bits) + 3) / 4; len(digits) < width {
		digits = strings.Repeat("0", width-len(digits)) + digits
	}

	return "0x" + digits
}

func isEmptyPDO(obj device.Node) bool {
	return strings.TrimSpace(valueOf(obj).String()) == emptyPDO || fieldOf(obj) == emptyPDO
}

func valueOf(n device.Node) device.Value {
	return guard(device.Value{}, n.Value)
}

func quickPDO(obj device.Node) string {
	s, ok := obj.(device.Summarizer)
	if !ok {
		return ""
	}

	return guard("", func() string {
		text, err := s.QuickPDO()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(text)
	})
}

func quickRDO(obj device.Node) string {
	s, ok := obj.(device.Summarizer)
	if !ok {
		return ""
	}

	return guard("", func() string {
		text, err := s.QuickRDO()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(text)
	})
}
