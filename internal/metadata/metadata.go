// Package metadata documents the grid code table in the metadata registry once a load has
// finished: which columns exist, what they mean, and which levels are actually present.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"meshetl/internal/mesh"
	"meshetl/internal/metrics"
)

// SourceURL is the published definition of the JIS X 0410 regional mesh.
const SourceURL = "https://www.stat.go.jp/data/mesh/pdf/gaiyo1.pdf"

// TableMetadata is the document stored for one table.
type TableMetadata struct {
	Name       string           `json:"name"`
	Desc       string           `json:"desc,omitempty"`
	Source     string           `json:"source,omitempty"`
	SourceURL  string           `json:"source_url,omitempty"`
	License    string           `json:"license,omitempty"`
	LicenseURL string           `json:"license_url,omitempty"`
	PrimaryKey string           `json:"primary_key,omitempty"`
	Columns    []ColumnMetadata `json:"columns"`
}

type ColumnMetadata struct {
	Name       string              `json:"name"`
	Desc       string              `json:"desc,omitempty"`
	DataType   string              `json:"data_type"`
	ForeignKey string              `json:"foreign_key,omitempty"`
	EnumValues []ColumnEnumDetails `json:"enum_values,omitempty"`
}

// ColumnEnumDetails labels one stored value of an enumerated column.
type ColumnEnumDetails struct {
	Value string `json:"value"`
	Desc  string `json:"desc,omitempty"`
}

// Document describes the grid code table with one level label per level in levels.
func Document(levels []mesh.Level) TableMetadata {
	enum := make([]ColumnEnumDetails, 0, len(levels))
	for _, l := range levels {
		enum = append(enum, ColumnEnumDetails{Value: strconv.Itoa(int(l)), Desc: l.Label()})
	}

	return TableMetadata{
		Name:       "Regional mesh code geometry",
		Desc:       "Maps JIS X 0410 regional mesh codes to their cell polygons",
		SourceURL:  SourceURL,
		PrimaryKey: "code",
		Columns: []ColumnMetadata{
			{Name: "code", Desc: "Regional mesh code", DataType: "bigint"},
			{Name: "level", Desc: "Mesh level (Lv1, Lv2, ...)", DataType: "smallint", EnumValues: enum},
			{Name: "geom", Desc: "Polygon covering the mesh cell", DataType: "geometry(polygon, 4326)"},
		},
	}
}

// Registry is the store the document is written to. storage.Repository implements it.
type Registry interface {
	DistinctLevels(ctx context.Context) ([]int, error)
	InitMetadata(ctx context.Context) error
	UpsertMetadata(ctx context.Context, table string, doc []byte) error
}

// Logger is the minimal logging interface used by the phase. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Phase queries the levels present in the table, builds the document and upserts it.
// It is a single sequential request/response exchange.
type Phase struct {
	Registry Registry
	Logger   Logger
}

func (p *Phase) Run(ctx context.Context, table string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("metadata", time.Since(start), err) }()

	raw, err := p.Registry.DistinctLevels(ctx)
	if err != nil {
		return fmt.Errorf("query levels: %w", err)
	}
	levels := make([]mesh.Level, 0, len(raw))
	for _, v := range raw {
		l := mesh.Level(v)
		if !l.Valid() {
			return fmt.Errorf("table %s contains unsupported level %d", table, v)
		}
		levels = append(levels, l)
	}

	doc, err := json.Marshal(Document(levels))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := p.Registry.InitMetadata(ctx); err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	if err := p.Registry.UpsertMetadata(ctx, table, doc); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	p.logger().Printf("stage=metadata ok table=%s levels=%v duration=%s", table, levels, time.Since(start).Truncate(time.Millisecond))
	return nil
}

func (p *Phase) logger() Logger {
	if p.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return p.Logger
}
