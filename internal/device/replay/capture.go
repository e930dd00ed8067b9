package replay

import (
	"bytes"
	"fmt"

	"codeberg.org/mutker/pdctl/internal/device"
	json "github.com/goccy/go-json"
)

// record is one line of a capture file.
type record struct {
	Timestamp string    `json:"ts"`
	DelayMS   int       `json:"delay_ms,omitempty"`
	Packet    *nodeJSON `json:"packet"`
}

// nodeJSON mirrors device.Node. Value holds a string, bool, number or a list
// of nodes.
type nodeJSON struct {
	Field    string               `json:"field"`
	Value    json.RawMessage      `json:"value,omitempty"`
	Raw      string               `json:"raw,omitempty"`
	Fields   map[string]*nodeJSON `json:"fields,omitempty"`
	QuickPDO string               `json:"quick_pdo,omitempty"`
	QuickRDO string               `json:"quick_rdo,omitempty"`
}

func parseRecord(line []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return record{}, fmt.Errorf("decode capture line: %w", err)
	}

	return rec, nil
}

func (n *nodeJSON) toNode() (*device.StaticNode, error) {
	if n == nil {
		return nil, nil
	}

	val, err := n.value()
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", n.Field, err)
	}

	node := &device.StaticNode{
		Name:    n.Field,
		Val:     val,
		Bits:    n.Raw,
		PDOText: n.QuickPDO,
		RDOText: n.QuickRDO,
	}

	for name, child := range n.Fields {
		c, err := child.toNode()
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		if c.Name == "" {
			c.Name = name
		}
		node.With(name, c)
	}

	return node, nil
}

func (n *nodeJSON) value() (device.Value, error) {
	raw := bytes.TrimSpace(n.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return device.Value{}, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return device.Value{}, err
		}
		return device.Text(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return device.Value{}, err
		}
		return device.Bool(b), nil
	case '[':
		var items []*nodeJSON
		if err := json.Unmarshal(raw, &items); err != nil {
			return device.Value{}, err
		}
		nodes := make([]device.Node, 0, len(items))
		for _, item := range items {
			node, err := item.toNode()
			if err != nil {
				return device.Value{}, err
			}
			if node != nil {
				nodes = append(nodes, node)
			}
		}
		return device.List(nodes...), nil
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return device.Value{}, err
		}
		return device.Number(f), nil
	}
}
