// Package confirmation asks the operator before a command overwrites a
// database.
package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mysql-porter/internal/display"
)

// maxPrompts bounds how often an unrecognized answer is asked again
const maxPrompts = 3

// ImportPlan describes an import about to run
type ImportPlan struct {
	Source       string
	Host         string
	Database     string
	SafetyBackup bool
	BackupDir    string
}

// ConfirmationService handles operator confirmation for imports
type ConfirmationService interface {
	ConfirmImport(ctx context.Context, plan *ImportPlan, autoApprove bool) (bool, error)
	DisplayImportSummary(plan *ImportPlan)
}

type confirmationService struct {
	display *display.Service
	reader  *bufio.Reader
}

// NewConfirmationService reads answers from in and prints through svc
func NewConfirmationService(svc *display.Service, in io.Reader) ConfirmationService {
	return &confirmationService{
		display: svc,
		reader:  bufio.NewReader(in),
	}
}

// ConfirmImport shows the plan and waits for an answer. ctx cancellation
// (SIGINT) aborts the wait with ctx.Err().
func (cs *confirmationService) ConfirmImport(ctx context.Context, plan *ImportPlan, autoApprove bool) (bool, error) {
	cs.DisplayImportSummary(plan)

	if autoApprove {
		cs.display.Info("Auto-approving import")
		return true, nil
	}

	for i := 0; i < maxPrompts; i++ {
		cs.display.Prompt("Do you want to run this import? [y/N]: ")
		input, err := cs.readLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				cs.display.Warning("Operation cancelled by user")
			}
			return false, err
		}
		ok, valid := parseConfirmationInput(input)
		if valid {
			return ok, nil
		}
		cs.display.Warning(fmt.Sprintf("Invalid input '%s'. Please enter 'y' for yes or 'n' for no.", input))
	}
	return false, nil
}

// DisplayImportSummary prints what the import will touch
func (cs *confirmationService) DisplayImportSummary(plan *ImportPlan) {
	cs.display.Header("Import Plan")

	table := cs.display.NewTable()
	table.SetHeaders("Setting", "Value")
	table.AddRow("Source", plan.Source)
	table.AddRow("Target", fmt.Sprintf("%s@%s", plan.Database, plan.Host))
	backup := "disabled"
	if plan.SafetyBackup {
		backup = "enabled"
		if plan.BackupDir != "" {
			backup += " (" + plan.BackupDir + ")"
		}
	}
	table.AddRow("Safety backup", backup)
	_ = table.RenderTo(cs.display.Writer())

	cs.display.Warning("Tables in the dump replace existing tables with the same name")
	if !plan.SafetyBackup {
		cs.display.Warning("No safety backup: a failed import leaves the database partially written")
	}
}

// readLine waits for one line of input or ctx cancellation
func (cs *confirmationService) readLine(ctx context.Context) (string, error) {
	type line struct {
		text string
		err  error
	}
	lineChan := make(chan line, 1)

	go func() {
		text, err := cs.reader.ReadString('\n')
		if errors.Is(err, io.EOF) && text != "" {
			err = nil
		}
		lineChan <- line{text: strings.TrimSpace(text), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-lineChan:
		if l.err != nil {
			return "", fmt.Errorf("failed to read input: %w", l.err)
		}
		return l.text, nil
	}
}

// parseConfirmationInput returns the answer and whether input was recognized
func parseConfirmationInput(input string) (ok, valid bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, true
	case "n", "no", "":
		return false, true
	default:
		return false, false
	}
}
