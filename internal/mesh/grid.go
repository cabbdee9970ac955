package mesh

// Point is a geographic coordinate in degrees (WGS 84 / EPSG:4326).
type Point struct {
	Lat float64
	Lon float64
}

// Grid is the grid-generation collaborator.
//
// Expand returns the codes at level that intersect root, in ascending order. When level is
// coarser than or equal to root's own level the result is the single enclosing code.
//
// Points returns, for every code, the point at the given relative offsets inside the cell:
// (0, 0) is the south-west corner and (1, 1) the north-east corner. Implementations may be
// CPU-bound; callers run them off the I/O path.
type Grid interface {
	Expand(root uint64, level Level) ([]uint64, error)
	Points(codes []uint64, latMultiplier, lonMultiplier float64) ([]Point, error)
}
