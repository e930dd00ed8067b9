package device

// Node is one field of a decoded packet tree. The root node is the packet
// itself; its Field is the packet tag ("pd" for protocol traffic).
type Node interface {
	// Field returns the object type name, e.g. "VDM Header" or "Product VDO"
	Field() string

	// Get returns the named child field
	Get(name string) (Node, bool)

	// Value returns the decoded value of this field
	Value() Value

	// Raw returns the field's bit pattern as a string of '0' and '1'
	Raw() string
}

// Summarizer is implemented by data objects the decoder can describe in one
// line.
type Summarizer interface {
	QuickPDO() (string, error)
	QuickRDO() (string, error)
}

// Decoded is the result of one successful read/decode cycle
type Decoded struct {
	Timestamp string
	Packet    Node
}

// Device is an opened measurement device handle.
type Device interface {
	// Read blocks until the next report has been received
	Read() error

	// Decode unpacks the last report; ok is false when nothing usable was decoded
	Decode() (Decoded, bool)

	Close() error
}

// Driver opens devices. Implementations adapt a concrete HID/decoder stack.
type Driver interface {
	OpenPath(path string) (Device, error)
	OpenID(vendorID, productID uint16) (Device, error)
	OpenDefault() (Device, error)
}

// Selector identifies the device to open. Zero values defer to the next
// strategy.
type Selector struct {
	Path      string `mapstructure:"path"`
	VendorID  uint16 `mapstructure:"vid"`
	ProductID uint16 `mapstructure:"pid"`
}

func (s Selector) HasPath() bool {
	return s.Path != ""
}

func (s Selector) HasID() bool {
	return s.VendorID != 0 && s.ProductID != 0
}
