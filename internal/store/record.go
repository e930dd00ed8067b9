package store

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/pd"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

// Kind is the record type shown in the Type column
type Kind uint8

const (
	KindPDO Kind = iota + 1
	KindRDO
	KindMeasurement
)

func (k Kind) String() string {
	switch k {
	case KindPDO:
		return "PDO"
	case KindRDO:
		return "RDO"
	case KindMeasurement:
		return "MEASUREMENT"
	default:
		return "UNKNOWN"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PDO":
		return KindPDO, nil
	case "RDO":
		return KindRDO, nil
	case "MEASUREMENT":
		return KindMeasurement, nil
	default:
		return 0, errors.New().WithData(errors.ErrInvalidArgument, fmt.Sprintf("unknown record kind %q", s))
	}
}

func (k Kind) IsProtocol() bool {
	return k == KindPDO || k == KindRDO
}

// Record is a display-ready row. Only the field matching Kind is set among
// PDOs, RDO and Sample.
type Record struct {
	Index        uint64
	Timestamp    string
	RelativeTime float64
	Kind         Kind
	Summary      string

	PDOs   []pd.PDOEntry
	RDO    *pd.RDOInfo
	Sample *telemetry.Sample
}
