package schema

import (
	"context"
	"strings"
)

// Emitter produces the structural statements of a table for a dump.
type Emitter struct {
	extractor *Extractor
}

// NewEmitter creates a schema emitter reading definitions through extractor.
func NewEmitter(extractor *Extractor) *Emitter {
	return &Emitter{extractor: extractor}
}

// Emit returns a comment header, an optional DROP TABLE IF EXISTS, and the
// CREATE TABLE statement of tableName as reported by the server.
func (e *Emitter) Emit(ctx context.Context, tableName string, dropIfExists bool) (string, error) {
	ddl, err := e.extractor.CreateStatement(ctx, tableName)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("\n--\n-- Table structure for table ")
	b.WriteString(QuoteIdentifier(tableName))
	b.WriteString("\n--\n\n")
	if dropIfExists {
		b.WriteString("DROP TABLE IF EXISTS ")
		b.WriteString(QuoteIdentifier(tableName))
		b.WriteString(";\n")
	}
	b.WriteString(strings.TrimRight(ddl, ";\n "))
	b.WriteString(";\n\n")
	return b.String(), nil
}
