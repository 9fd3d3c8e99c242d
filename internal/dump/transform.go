package dump

import (
	"strings"

	"mysql-porter/internal/policy"
)

// Transformer applies an export policy to single rows. It performs no I/O.
type Transformer struct {
	synth *Synthesizer
}

// NewTransformer creates a transformer drawing replacements from synth.
func NewTransformer(synth *Synthesizer) *Transformer {
	if synth == nil {
		synth = NewSynthesizer(0)
	}
	return &Transformer{synth: synth}
}

// Transform returns the row to export and true, or nil and false when the row
// must be skipped. Retained rows and rows of tables without omitted columns are
// returned unchanged; otherwise a copy is returned with every omitted column
// replaced. Key columns are never replaced.
func (t *Transformer) Transform(p *policy.Policy, keyColumns []string, row *Row) (*Row, bool) {
	if p == nil {
		return row, true
	}
	if p.Ignore {
		return nil, false
	}
	if !p.Redacts() || p.Retains(row.Key) {
		return row, true
	}

	out := row.Clone()
	for i, column := range out.Columns {
		if !p.Omits(column) || isKeyColumn(column, keyColumns) {
			continue
		}
		out.Values[i] = t.synth.Value(column, out.Values[i])
	}
	return out, true
}

func isKeyColumn(column string, keyColumns []string) bool {
	for _, k := range keyColumns {
		if strings.EqualFold(k, column) {
			return true
		}
	}
	return false
}
