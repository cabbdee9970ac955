// Package config turns user input (flags, environment, config file) into the immutable
// configuration record consumed by the loader.
//
// Raw holds values as typed by the user. ValidateRaw reports every problem at once, and
// Build returns a Config only when no error-severity issue was found. Nothing here opens a
// connection or starts a goroutine, so configuration errors always surface before any work.
package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"meshetl/internal/mesh"
)

const (
	DefaultStorage         = "postgres"
	DefaultTable           = "jismesh_codes"
	DefaultBatchSize       = 5_000
	DefaultRowBuffer       = 10_000
	DefaultEventBuffer     = 1_000
	defaultWorkersPerCPU   = 4
	maxQualifiedNameLength = 127
)

// StorageKinds lists the storage backends the binary is built with.
var StorageKinds = []string{"postgres", "sqlite", "mssql"}

// Raw is unvalidated input. Zero values mean "use the default".
type Raw struct {
	DSN          string   `mapstructure:"dsn"`
	Storage      string   `mapstructure:"storage"`
	Table        string   `mapstructure:"table"`
	Levels       []string `mapstructure:"levels"`
	RootMeshes   []string `mapstructure:"root_meshes"`
	Workers      int      `mapstructure:"workers"`
	BatchSize    int      `mapstructure:"batch_size"`
	RowBuffer    int      `mapstructure:"channel_capacity"`
	EventBuffer  int      `mapstructure:"event_capacity"`
	SkipMetadata bool     `mapstructure:"skip_metadata"`
}

// Config is the validated configuration record for one run. Build returns it by value with
// its own copies of the level and root slices; callers treat it as read-only.
type Config struct {
	DSN          string
	Storage      string
	Table        string
	Levels       []mesh.Level
	RootMeshes   []uint64
	Workers      int
	BatchSize    int
	RowBuffer    int
	EventBuffer  int
	SkipMetadata bool
}

// DefaultWorkers is a small multiple of the CPU count; inserts wait on database round trips.
func DefaultWorkers() int {
	return runtime.NumCPU() * defaultWorkersPerCPU
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path names the offending input ("levels[2]").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ValidationError is returned by Build when at least one error-severity issue exists.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, iss := range e.Issues {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// ValidateRaw checks raw input and returns all issues found, errors and warnings alike.
func ValidateRaw(raw Raw) []Issue {
	_, issues := build(raw)
	return issues
}

// Build validates raw and returns the configuration record.
func Build(raw Raw) (Config, error) {
	cfg, issues := build(raw)
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return Config{}, &ValidationError{Issues: issues}
		}
	}
	return cfg, nil
}

func build(raw Raw) (Config, []Issue) {
	var issues []Issue
	addErr := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	addWarn := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	cfg := Config{
		DSN:          strings.TrimSpace(raw.DSN),
		Storage:      strings.ToLower(strings.TrimSpace(raw.Storage)),
		Table:        strings.TrimSpace(raw.Table),
		Workers:      raw.Workers,
		BatchSize:    raw.BatchSize,
		RowBuffer:    raw.RowBuffer,
		EventBuffer:  raw.EventBuffer,
		SkipMetadata: raw.SkipMetadata,
	}

	if cfg.DSN == "" {
		addErr("dsn", "database connection string is required")
	}

	if cfg.Storage == "" {
		cfg.Storage = DefaultStorage
	}
	if !contains(StorageKinds, cfg.Storage) {
		addErr("storage", "unsupported storage kind %q (want one of %s)", cfg.Storage, strings.Join(StorageKinds, ", "))
	}

	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if msg := checkTableName(cfg.Table); msg != "" {
		addErr("table", "%s", msg)
	}

	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RowBuffer == 0 {
		cfg.RowBuffer = DefaultRowBuffer
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	for _, f := range []struct {
		path string
		v    int
	}{
		{"workers", cfg.Workers},
		{"batch_size", cfg.BatchSize},
		{"channel_capacity", cfg.RowBuffer},
		{"event_capacity", cfg.EventBuffer},
	} {
		if f.v < 0 {
			addErr(f.path, "must be positive, got %d", f.v)
		}
	}

	seenLevels := map[mesh.Level]bool{}
	for i, tok := range raw.Levels {
		l, err := mesh.ParseLevel(tok)
		if err != nil {
			addErr(fmt.Sprintf("levels[%d]", i), "%v", err)
			continue
		}
		if seenLevels[l] {
			addWarn(fmt.Sprintf("levels[%d]", i), "duplicate level %s will be generated twice", l)
		}
		seenLevels[l] = true
		cfg.Levels = append(cfg.Levels, l)
	}
	if len(raw.Levels) == 0 {
		cfg.Levels = append([]mesh.Level(nil), mesh.Levels...)
	}

	seenRoots := map[uint64]bool{}
	for i, tok := range raw.RootMeshes {
		path := fmt.Sprintf("root_meshes[%d]", i)
		code, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			addErr(path, "invalid root mesh code %q", tok)
			continue
		}
		if _, err := mesh.Validate(code); err != nil {
			addErr(path, "%v", err)
			continue
		}
		if seenRoots[code] {
			addWarn(path, "duplicate root mesh %d will be generated twice", code)
		}
		seenRoots[code] = true
		cfg.RootMeshes = append(cfg.RootMeshes, code)
	}
	if len(raw.RootMeshes) == 0 {
		cfg.RootMeshes = append([]uint64(nil), mesh.JapanLv1...)
	}

	return cfg, issues
}

// checkTableName accepts plain or schema-qualified identifiers made of letters, digits and
// underscores. The name is interpolated into SQL by every backend.
func checkTableName(name string) string {
	if len(name) > maxQualifiedNameLength {
		return "table name is too long"
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Sprintf("table name %q has too many parts", name)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Sprintf("table name %q has an empty part", name)
		}
		for i, r := range p {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return fmt.Sprintf("table name %q contains invalid character %q", name, r)
			}
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
