package tiebreak

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
)

// TerminalPrompter asks the user to pick a guest in an interactive terminal.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a new TerminalPrompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// PromptForGuest shows the candidates and returns the selected guest id.
func (p *TerminalPrompter) PromptForGuest(req Request) (choice string, always bool, err error) {
	options := make([]huh.Option[string], 0, len(req.Candidates))
	for _, c := range req.Candidates {
		options = append(options, huh.NewOption(c, c))
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Several guests match "+req.Target).
				Description("Pick the guest that manages this machine.").
				Options(options...).
				Value(&choice),
			huh.NewConfirm().
				Title("Remember this choice?").
				Affirmative("Always").
				Negative("This time only").
				Value(&always),
		),
	).Run()
	if err != nil {
		return "", false, err
	}
	return choice, always, nil
}

// FormatNonInteractiveError creates a helpful error message for non-interactive mode.
func (p *TerminalPrompter) FormatNonInteractiveError(req Request) error {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("several guests match target %q (running in non-interactive mode)\n\n", req.Target))
	msg.WriteString("Candidates:\n")
	for _, c := range req.Candidates {
		msg.WriteString(fmt.Sprintf("  - %s\n", c))
	}
	msg.WriteString("\nTo resolve:\n")
	msg.WriteString("  1. Run interactively and pick a guest when prompted\n")
	msg.WriteString("  2. Set tie_break.preferred in the host config\n")
	msg.WriteString("  3. Record the choice in the decisions file\n")

	return fmt.Errorf("%w: %s", entities.ErrAmbiguousMatch, msg.String())
}
