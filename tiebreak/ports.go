package tiebreak

// Request describes one ambiguous detection shown to a user.
type Request struct {
	Target     string
	Candidates []string
}

// DecisionStore persists choices the user asked to remember.
type DecisionStore interface {
	Load() (*Decisions, error)
	Save(d *Decisions) error
	ConfigPath() string
}

// Prompter handles interactive guest selection.
type Prompter interface {
	IsInteractive() bool
	PromptForGuest(req Request) (choice string, always bool, err error)
	FormatNonInteractiveError(req Request) error
}
