package storage

import (
	"strconv"
	"strings"
)

// MetadataTable is the registry table holding one metadata document per data table.
const MetadataTable = "table_metadata"

// SRID of every stored geometry (WGS 84).
const SRID = 4326

// EnvelopeWKT renders the bounding box of rec as a closed WKT polygon, counter-clockwise from
// the south-west corner. Backends without an envelope constructor build geometry from it.
func EnvelopeWKT(rec Record) string {
	x0 := formatCoord(rec.XMin)
	y0 := formatCoord(rec.YMin)
	x1 := formatCoord(rec.XMax)
	y1 := formatCoord(rec.YMax)

	var b strings.Builder
	b.Grow(160)
	b.WriteString("POLYGON((")
	b.WriteString(x0 + " " + y0 + ", ")
	b.WriteString(x1 + " " + y0 + ", ")
	b.WriteString(x1 + " " + y1 + ", ")
	b.WriteString(x0 + " " + y1 + ", ")
	b.WriteString(x0 + " " + y0)
	b.WriteString("))")
	return b.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
