package pd

// InvalidRDO is the summary used when a request object cannot be decoded
const InvalidRDO = "Invalid RDO"

// PDOEntry is one advertised power data object
type PDOEntry struct {
	Position int    `json:"position"`
	Summary  string `json:"summary"`
	RawHex   string `json:"raw_hex,omitempty"`
}

// RDOInfo describes the request data object of a Request message
type RDOInfo struct {
	Summary        string `json:"summary"`
	RawHex         string `json:"raw_hex,omitempty"`
	ObjectPosition string `json:"object_position,omitempty"`
}

// Valid reports whether the request decoded to something worth recording
func (r RDOInfo) Valid() bool {
	return r.Summary != "" && r.Summary != InvalidRDO
}

// CableRow is one line of cable identity. When Symbolic is set Value is a
// key (e.g. "cable_type_passive", "bool_true") for the presentation layer to
// translate.
type CableRow struct {
	Field    string `json:"field"`
	Value    string `json:"value"`
	Symbolic bool   `json:"symbolic,omitempty"`
}
