package device

// Field names produced by the packet decoder.
const (
	TagPD = "pd"

	FieldMessageHeader       = "Message Header"
	FieldMessageType         = "Message Type"
	FieldExtended            = "Extended"
	FieldDataObjects         = "Data Objects"
	FieldExtendedDataObjects = "Extended Data Objects"
	FieldSOP                 = "SOP*"
	FieldObjectPosition      = "Object Position"

	FieldVBus    = "VBus"
	FieldCurrent = "Current"
)

// Lookup walks a path of child field names starting at n.
func Lookup(n Node, path ...string) (Node, bool) {
	cur := n
	for _, name := range path {
		if cur == nil {
			return nil, false
		}
		next, ok := cur.Get(name)
		if !ok || next == nil {
			return nil, false
		}
		cur = next
	}

	return cur, cur != nil
}

// ValueAt returns the value at path below n, or a zero Value.
func ValueAt(n Node, path ...string) Value {
	child, ok := Lookup(n, path...)
	if !ok {
		return Value{}
	}

	return child.Value()
}
