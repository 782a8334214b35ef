package mapping

import (
	"bytes"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ssargent/pgscrub/pkg/copytext"
)

// Kind identifies one of the built-in column transforms
type Kind int

const (
	// Retain passes the column through unchanged
	Retain Kind = iota
	// ReplaceWithNull replaces the column with SQL NULL
	ReplaceWithNull
	// Scramble replaces letters and digits with random ones of the same class
	Scramble
	// RewriteEmail derives an address from another column of the same row
	RewriteEmail
)

// Transform is a column transform. Column is only used by RewriteEmail and
// names the column whose value becomes the local part of the address.
type Transform struct {
	Kind   Kind
	Column string
}

// EmailFromColumn returns a transform that rewrites addresses to
// <value of column>@<obfuscated domain>
func EmailFromColumn(column string) Transform {
	return Transform{Kind: RewriteEmail, Column: column}
}

func (t Transform) String() string {
	switch t.Kind {
	case Retain:
		return "retain"
	case ReplaceWithNull:
		return "null"
	case Scramble:
		return "scramble"
	case RewriteEmail:
		return "email:" + t.Column
	default:
		return fmt.Sprintf("Kind(%d)", int(t.Kind))
	}
}

// ParseTransform parses the textual form used in configuration files:
// retain, null, scramble or email:<column>
func ParseTransform(s string) (Transform, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "retain", "keep":
		return Transform{Kind: Retain}, nil
	case "null":
		return Transform{Kind: ReplaceWithNull}, nil
	case "scramble":
		return Transform{Kind: Scramble}, nil
	}
	if col, ok := strings.CutPrefix(s, "email:"); ok {
		col = strings.TrimSpace(col)
		if col == "" {
			return Transform{}, fmt.Errorf("email transform needs a column name: %q", s)
		}
		return EmailFromColumn(col), nil
	}
	return Transform{}, fmt.Errorf("unknown column transform %q", s)
}

func (t *Transform) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: column transform must be a string", node.Line)
	}
	parsed, err := ParseTransform(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}

func (t Transform) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// Options configures the transforms
type Options struct {
	// ProtectedSuffix marks addresses that are left alone, e.g. "@example.com"
	ProtectedSuffix string
	// ObfuscatedDomain is the domain rewritten addresses point at
	ObfuscatedDomain string
	// Rand drives Scramble. A randomly seeded source is used when nil.
	Rand *rand.Rand
}

// NewRand returns a deterministic source for Scramble when seed is nonzero
// and a randomly seeded one otherwise.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (o Options) withDefaults() Options {
	if o.Rand == nil {
		o.Rand = NewRand(0)
	}
	return o
}

func replaceWithNull() []byte {
	return append([]byte(nil), copytext.Null...)
}

func scramble(content []byte, rng *rand.Rand) []byte {
	value := copytext.ParseField(content)
	if !value.Valid {
		return content
	}
	b := []byte(value.String)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = 'a' + byte(rng.IntN(26))
		case c >= 'A' && c <= 'Z':
			b[i] = 'A' + byte(rng.IntN(26))
		case c >= '0' && c <= '9':
			b[i] = '0' + byte(rng.IntN(10))
		}
	}
	return copytext.FormatField(sql.NullString{String: string(b), Valid: true})
}

// rewriteEmail leaves NULL and protected addresses untouched and otherwise
// returns <uid>@<domain>. A NULL uid yields NULL.
func rewriteEmail(content, uid []byte, opts *Options) []byte {
	if copytext.IsNull(content) {
		return content
	}
	if opts.ProtectedSuffix != "" && bytes.HasSuffix(content, []byte(opts.ProtectedSuffix)) {
		return content
	}
	local := copytext.ParseField(uid)
	if !local.Valid {
		return replaceWithNull()
	}
	return copytext.FormatField(sql.NullString{String: local.String + "@" + opts.ObfuscatedDomain, Valid: true})
}
