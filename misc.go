package canopen

// IsIDRestricted reports whether canId is reserved by CiA 301 and may
// not be assigned to a configurable communication object.
func IsIDRestricted(canId uint16) bool {
	return canId <= 0x7f ||
		(canId >= 0x101 && canId <= 0x180) ||
		(canId >= 0x581 && canId <= 0x5FF) ||
		(canId >= 0x601 && canId <= 0x67F) ||
		(canId >= 0x6E0 && canId <= 0x6FF) ||
		canId >= 0x701
}

// IsValidNodeId reports whether nodeId is a usable CANopen node id
func IsValidNodeId(nodeId uint8) bool {
	return nodeId >= NodeIdMin && nodeId <= NodeIdMax
}
