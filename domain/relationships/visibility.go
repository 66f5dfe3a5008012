package relationships

// Visible decides whether edge surfaces as a friend for its owner.
//
// App-level connections are visible on their own. A device-contact edge is
// visible only when the reciprocal edge is also an accepted device contact,
// so nobody learns they sit in someone's phone book from one side alone.
func Visible(edge, reciprocal *Edge) bool {
	if !edge.Active() {
		return false
	}
	if edge.Origin != OriginDeviceContact {
		return true
	}
	return edge.Reverse(reciprocal) &&
		reciprocal.Active() &&
		reciprocal.Origin == OriginDeviceContact
}
