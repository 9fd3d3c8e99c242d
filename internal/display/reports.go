package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mysql-porter/internal/artifact"
	"mysql-porter/internal/importer"
	"mysql-porter/internal/replicate"
)

// RenderManifest prints the outcome of an export
func (s *Service) RenderManifest(m *artifact.Manifest) error {
	if s.structured() {
		return s.Render(m)
	}
	if s.config.Format() == FormatCompact {
		_, err := fmt.Fprintf(s.writer, "export %s %s tables=%d rows=%d bytes=%d sha256=%s\n",
			m.ID, m.Location, len(m.Tables), m.Rows, m.Bytes, m.Checksum)
		return err
	}

	s.Header("Export " + m.ID)
	summary := s.NewTable().SetHeaders("Field", "Value")
	summary.AddRow("Database", m.Database)
	summary.AddRow("Location", m.Location)
	if m.Token != "" {
		summary.AddRow("Token", m.Token)
	}
	summary.AddRow("Compression", m.Compression)
	summary.AddRow("Tables", strconv.Itoa(len(m.Tables)))
	summary.AddRow("Rows", strconv.FormatInt(m.Rows, 10))
	summary.AddRow("Dump size", FormatBytes(m.Bytes))
	summary.AddRow("Stored size", FormatBytes(m.Stored))
	if m.Remote {
		summary.AddRow("Parts", strconv.Itoa(m.Parts))
	}
	summary.AddRow("SHA-256", m.Checksum)
	summary.AddRow("Duration", m.Duration().Round(time.Millisecond).String())
	if err := summary.RenderTo(s.writer); err != nil {
		return err
	}

	if len(m.Tables) > 0 && !s.config.QuietMode {
		tables := s.NewTable().SetHeaders("Table", "Rows", "Pages", "Data", "Duration").AlignRight(1).AlignRight(2)
		for _, t := range m.Tables {
			data := "exported"
			if t.Ignored {
				data = "ignored"
			}
			tables.AddRow(t.Name, strconv.FormatInt(t.Rows, 10), strconv.Itoa(t.Pages), data, t.Duration.Round(time.Millisecond).String())
		}
		if err := tables.RenderTo(s.writer); err != nil {
			return err
		}
	}

	if ignored := m.IgnoredTables(); len(ignored) > 0 {
		s.Info("Schema only: " + strings.Join(ignored, ", "))
	}
	s.Success(fmt.Sprintf("Exported %d rows from %d tables", m.Rows, len(m.Tables)))
	return nil
}

// RenderImport prints the outcome of an import
func (s *Service) RenderImport(r *importer.Result) error {
	if s.structured() {
		return s.Render(r)
	}
	if s.config.Format() == FormatCompact {
		_, err := fmt.Fprintf(s.writer, "import %s statements=%d bytes=%d\n", r.Source, r.Statements, r.Bytes)
		return err
	}
	s.Success(fmt.Sprintf("Imported %s: %d statements, %s in %s",
		r.Source, r.Statements, FormatBytes(r.Bytes), r.Duration.Round(time.Millisecond)))
	return nil
}

// RenderReplication prints the replication summary and its failure ledger
func (s *Service) RenderReplication(r *replicate.Report) error {
	if s.structured() {
		return s.Render(r)
	}
	if s.config.Format() == FormatCompact {
		_, err := fmt.Fprintf(s.writer, "replicate %s -> %s listed=%d missing=%d copied=%d failed=%d\n",
			r.Source, r.Target, r.Stats.Listed, r.Stats.Missing, r.Stats.Copied, r.Stats.Failed)
		return err
	}

	s.Header(fmt.Sprintf("Replication %s -> %s", r.Source, r.Target))
	summary := s.NewTable().SetHeaders("Objects", "Count").AlignRight(1)
	summary.AddRow("Listed", strconv.Itoa(r.Stats.Listed))
	summary.AddRow("Batches", strconv.Itoa(r.Stats.Batches))
	summary.AddRow("Already present", strconv.Itoa(r.Stats.Present))
	summary.AddRow("Missing", strconv.Itoa(r.Stats.Missing))
	summary.AddRow("Copied", strconv.Itoa(r.Stats.Copied))
	summary.AddRow("Failed", strconv.Itoa(r.Stats.Failed))
	summary.AddRow("Bytes copied", FormatBytes(r.Stats.Bytes))
	if err := summary.RenderTo(s.writer); err != nil {
		return err
	}

	if len(r.Failures) == 0 {
		s.Success(fmt.Sprintf("Copied %d objects", r.Stats.Copied))
		return nil
	}

	s.Error(fmt.Sprintf("%d objects could not be copied", len(r.Failures)))
	return s.RenderFailures(r.Failures)
}

// RenderFailures prints the failure ledger as a table. It is shown in quiet
// mode too.
func (s *Service) RenderFailures(failures []replicate.Failure) error {
	if s.structured() {
		return s.Render(failures)
	}
	table := s.NewTable().SetHeaders("Key", "Attempts", "Last error").AlignRight(1)
	for _, f := range failures {
		table.AddRow(f.Key, strconv.Itoa(f.Attempts), f.Error)
	}
	return table.RenderTo(s.writer)
}

// BatchProgress returns a callback that advances bar after every batch.
func (s *Service) BatchProgress(bar *ProgressBar) func(replicate.BatchReport) {
	return func(b replicate.BatchReport) {
		bar.Add(int64(b.Size), fmt.Sprintf("batch %d: %d missing, %d copied, %d failed", b.Number, b.Missing, b.Copied, b.Failed))
	}
}
