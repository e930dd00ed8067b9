package device

import stderrors "errors"

// ErrNoSummary is returned by StaticNode when no quick summary was recorded
var ErrNoSummary = stderrors.New("no quick summary available")

// NotRDO is the marker decoders return when asked to summarize a non-RDO object
const NotRDO = "Not a RDO"

// StaticNode is an in-memory Node, used by replay captures and tests.
type StaticNode struct {
	Name     string
	Val      Value
	Bits     string
	Children map[string]Node
	PDOText  string
	RDOText  string
}

var (
	_ Node       = (*StaticNode)(nil)
	_ Summarizer = (*StaticNode)(nil)
)

// NewNode builds a StaticNode carrying a field name and value.
func NewNode(name string, val Value) *StaticNode {
	return &StaticNode{Name: name, Val: val}
}

// With adds a child field and returns the receiver for chaining.
func (n *StaticNode) With(name string, child Node) *StaticNode {
	if n.Children == nil {
		n.Children = make(map[string]Node)
	}
	n.Children[name] = child

	return n
}

// WithValue adds a leaf child holding val.
func (n *StaticNode) WithValue(name string, val Value) *StaticNode {
	return n.With(name, NewNode(name, val))
}

func (n *StaticNode) Field() string {
	return n.Name
}

func (n *StaticNode) Get(name string) (Node, bool) {
	child, ok := n.Children[name]
	return child, ok
}

func (n *StaticNode) Value() Value {
	return n.Val
}

func (n *StaticNode) Raw() string {
	return n.Bits
}

func (n *StaticNode) QuickPDO() (string, error) {
	if n.PDOText == "" {
		return "", ErrNoSummary
	}

	return n.PDOText, nil
}

func (n *StaticNode) QuickRDO() (string, error) {
	if n.RDOText == "" {
		return NotRDO, nil
	}

	return n.RDOText, nil
}
