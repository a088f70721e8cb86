// Package mesh computes routes over a rectangular X×Y mesh of NoC tiles.
// Nodes are addressed by a 0-based index; x = id % X, y = id / X. All
// functions are pure; resource availability is checked elsewhere.
package mesh

// Router output ports, derived from the geometric relation between two
// adjacent nodes.
const (
	PortNorth = 0
	PortEast  = 1
	PortSouth = 2
	PortWest  = 3

	// PortLocal is the base of the local NI drop ports. Port PortLocal+l
	// targets the NI on link l.
	PortLocal = 4
)

// Dimensions describes the size of the mesh.
type Dimensions struct {
	X, Y int
}

// Nodes returns the number of nodes in the mesh.
func (d Dimensions) Nodes() int {
	return d.X * d.Y
}

// Coord returns the x/y coordinates of a node id.
func (d Dimensions) Coord(node int) (x, y int) {
	return node % d.X, node / d.X
}

// Node returns the node id at the given coordinates.
func (d Dimensions) Node(x, y int) int {
	return d.X*y + x
}

// PrimaryPath returns the shortest path from src to dest using X-then-Y
// routing.
func PrimaryPath(dim Dimensions, src, dest int) []int {
	srcX, srcY := dim.Coord(src)
	destX, destY := dim.Coord(dest)

	return walkXY(dim, srcX, srcY, destX, destY, nil)
}

// AlternatePath returns a path from src to dest that shares no hop with
// the primary path. If src and dest share neither row nor column, Y-then-X
// routing is disjoint from X-then-Y by construction. Otherwise the first
// hop steps away from the shared row or column, towards the closer mesh
// edge where possible, and continues with the routing order that cannot
// re-enter the primary path.
func AlternatePath(dim Dimensions, src, dest int) []int {
	srcX, srcY := dim.Coord(src)
	destX, destY := dim.Coord(dest)

	if srcX != destX && srcY != destY {
		return walkYX(dim, srcX, srcY, destX, destY, nil)
	}

	path := []int{dim.Node(srcX, srcY)}
	if srcX == destX && srcY == destY {
		return path
	}

	if srcX == destX {
		// Same column: detour in x, then Y-then-X.
		if srcX <= dim.X/2 && srcX > 0 || srcX == dim.X-1 {
			srcX--
		} else {
			srcX++
		}
		return walkYX(dim, srcX, srcY, destX, destY, path)
	}

	// Same row: detour in y, then X-then-Y.
	if srcY <= dim.Y/2 && srcY > 0 || srcY == dim.Y-1 {
		srcY--
	} else {
		srcY++
	}
	return walkXY(dim, srcX, srcY, destX, destY, path)
}

func walkXY(dim Dimensions, currX, currY, destX, destY int, path []int) []int {
	for {
		path = append(path, dim.Node(currX, currY))
		switch {
		case currX < destX:
			currX++
		case currX > destX:
			currX--
		case currY < destY:
			currY++
		case currY > destY:
			currY--
		default:
			return path
		}
	}
}

func walkYX(dim Dimensions, currX, currY, destX, destY int, path []int) []int {
	for {
		path = append(path, dim.Node(currX, currY))
		switch {
		case currY < destY:
			currY++
		case currY > destY:
			currY--
		case currX < destX:
			currX++
		case currX > destX:
			currX--
		default:
			return path
		}
	}
}

// ValidatePath reports whether every consecutive node pair of the path is
// mesh-adjacent: the ids differ by ±1 (same row) or by ±meshWidth (same
// column).
func ValidatePath(xDim int, path []int) bool {
	for i := 0; i < len(path)-1; i++ {
		hop, next := path[i], path[i+1]
		switch {
		case next == hop+xDim || next == hop-xDim:
		case (next == hop+1 || next == hop-1) && next/xDim == hop/xDim:
		default:
			return false
		}
	}

	return true
}

// RouterOutputPort returns the router output port that forwards from curr
// to the adjacent node next.
func RouterOutputPort(xDim, curr, next int) int {
	switch {
	case curr-xDim == next:
		return PortNorth
	case curr+1 == next:
		return PortEast
	case curr+xDim == next:
		return PortSouth
	default:
		return PortWest
	}
}

// NextInputPort returns the input port on the downstream router that a
// flit leaving through out arrives on.
func NextInputPort(out int) int {
	switch out {
	case PortSouth:
		return PortNorth
	case PortWest:
		return PortEast
	case PortNorth:
		return PortSouth
	default:
		return PortWest
	}
}
