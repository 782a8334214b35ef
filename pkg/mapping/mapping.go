// Package mapping decides, per table and column, how row data is rewritten.
package mapping

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ssargent/pgscrub/pkg/pgcustom"
)

// TableMapping is either Omit (drop all table data) or a per-column transform map
type TableMapping struct {
	Omit    bool
	Columns map[string]Transform
}

// OmitTable is the mapping for tables whose data is excluded entirely
var OmitTable = TableMapping{Omit: true}

const omitKeyword = "omit"

func (m *TableMapping) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if !strings.EqualFold(strings.TrimSpace(node.Value), omitKeyword) {
			return fmt.Errorf("line %d: table mapping must be %q or a column map, got %q", node.Line, omitKeyword, node.Value)
		}
		*m = OmitTable
		return nil
	case yaml.MappingNode:
		// decoded by hand so that an unquoted `null` reaches ParseTransform
		// instead of being zeroed by the yaml decoder
		cols := make(map[string]Transform, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: column transform for %s must be a string", value.Line, key.Value)
			}
			t, err := ParseTransform(value.Value)
			if err != nil {
				return fmt.Errorf("line %d: column %s: %w", value.Line, key.Value, err)
			}
			cols[key.Value] = t
		}
		*m = TableMapping{Columns: cols}
		return nil
	default:
		return fmt.Errorf("line %d: table mapping must be %q or a column map", node.Line, omitKeyword)
	}
}

func (m TableMapping) MarshalYAML() (interface{}, error) {
	if m.Omit {
		return omitKeyword, nil
	}
	return m.Columns, nil
}

// TableColumnMappings maps a table tag (optionally schema qualified) to its mapping
type TableColumnMappings map[string]TableMapping

// OmittedTables returns the sorted names of tables configured as omitted
func (m TableColumnMappings) OmittedTables() []string {
	var out []string
	for name, tm := range m {
		if tm.Omit {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m TableColumnMappings) lookup(entry *pgcustom.TocEntry) (TableMapping, bool) {
	if entry.Namespace.Valid && entry.Namespace.String != "" {
		if tm, ok := m[entry.Namespace.String+"."+entry.Tag.String]; ok {
			return tm, true
		}
	}
	tm, ok := m[entry.Tag.String]
	return tm, ok
}

// CopyStatement is the parsed form of a TOC entry's COPY statement
type CopyStatement struct {
	Table   string
	Columns []string
}

// unquoted parts of the table name may not contain spaces and column names
// may not contain ", "
var copyStmtPattern = regexp.MustCompile(`COPY ((?:"[^"]*"|\S)+) \((.*)\) FROM stdin;`)

// ParseCopyStatement extracts the table and column names from a statement
// of the form `COPY <table> (<col1>, <col2>, ...) FROM stdin;`.
func ParseCopyStatement(stmt string) (*CopyStatement, error) {
	match := copyStmtPattern.FindStringSubmatch(stmt)
	if match == nil {
		return nil, &pgcustom.FormatError{Message: fmt.Sprintf("unable to parse copy statement %q", stmt)}
	}
	raw := strings.Split(match[2], ", ")
	cols := make([]string, len(raw))
	for i, c := range raw {
		if len(c) >= 2 && strings.HasPrefix(c, `"`) && strings.HasSuffix(c, `"`) {
			c = strings.ReplaceAll(c[1:len(c)-1], `""`, `"`)
		}
		cols[i] = c
	}
	return &CopyStatement{Table: match[1], Columns: cols}, nil
}

// Resolver turns table mappings into per-table plans
type Resolver struct {
	mappings TableColumnMappings
	opts     Options
	logger   *slog.Logger
}

// NewResolver creates a resolver; a nil logger discards warnings
func NewResolver(mappings TableColumnMappings, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{mappings: mappings, opts: opts.withDefaults(), logger: logger}
}

// Resolve builds the plan for entry's data. A nil plan means the rows can be
// passed through without being parsed.
func (r *Resolver) Resolve(entry *pgcustom.TocEntry) (*Plan, error) {
	if !entry.Tag.Valid || entry.Tag.String == "" {
		return nil, fmt.Errorf("toc entry %d has no tag", entry.DumpID)
	}
	table := entry.Tag.String

	tm, ok := r.mappings.lookup(entry)
	if !ok {
		r.logger.Warn("no column mappings for table, retaining all data", "table", table)
		return nil, nil
	}
	if tm.Omit {
		return &Plan{Table: table, Omit: true}, nil
	}

	if !entry.CopyStmt.Valid || entry.CopyStmt.String == "" {
		return nil, errors.New("missing copy statement")
	}
	stmt, err := ParseCopyStatement(entry.CopyStmt.String)
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(stmt.Columns))
	for i, c := range stmt.Columns {
		position[c] = i
	}

	plan := &Plan{
		Table:      table,
		Columns:    stmt.Columns,
		transforms: make([]Transform, len(stmt.Columns)),
		source:     make([]int, len(stmt.Columns)),
		opts:       &r.opts,
	}
	allRetained := true
	for i, col := range stmt.Columns {
		plan.source[i] = -1
		t, ok := tm.Columns[col]
		if !ok {
			r.logger.Warn("no column mapping, retaining column", "table", table, "column", col)
			t = Transform{Kind: Retain}
		}
		if t.Kind == RewriteEmail {
			src, ok := position[t.Column]
			if !ok {
				return nil, fmt.Errorf("column %s reads missing column %s", col, t.Column)
			}
			plan.source[i] = src
		}
		if t.Kind != Retain {
			allRetained = false
		}
		plan.transforms[i] = t
	}

	for col := range tm.Columns {
		if _, ok := position[col]; !ok {
			r.logger.Warn("mapped column not present in table", "table", table, "column", col)
		}
	}

	if allRetained {
		return nil, nil
	}
	return plan, nil
}

// Plan is the resolved transform list for one table
type Plan struct {
	Table   string
	Omit    bool
	Columns []string

	transforms []Transform
	source     []int
	opts       *Options
}

// Transforms returns the transform for each column, in column order
func (p *Plan) Transforms() []Transform {
	return append([]Transform(nil), p.transforms...)
}

// Apply transforms one parsed row. Transforms always see the original values
// of the other columns.
func (p *Plan) Apply(row [][]byte) ([][]byte, error) {
	if len(row) != len(p.Columns) {
		return nil, &pgcustom.FormatError{Message: fmt.Sprintf("row has %d columns, expected %d", len(row), len(p.Columns))}
	}
	out := make([][]byte, len(row))
	for i, content := range row {
		switch t := p.transforms[i]; t.Kind {
		case Retain:
			out[i] = content
		case ReplaceWithNull:
			out[i] = replaceWithNull()
		case Scramble:
			out[i] = scramble(content, p.opts.Rand)
		case RewriteEmail:
			out[i] = rewriteEmail(content, row[p.source[i]], p.opts)
		default:
			return nil, fmt.Errorf("unknown transform %s", t)
		}
	}
	return out, nil
}
