// Package canopen holds the pieces shared by every SDO channel of a
// node: the bus manager dispatching received frames by identifier, the
// common errors and node-id helpers. The SDO engines themselves live in
// pkg/sdo.
package canopen

const (
	NodeIdMin uint8 = 1
	NodeIdMax uint8 = 127
)
