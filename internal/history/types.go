package history

// Run is one invocation of the agent.
type Run struct {
	ID           int64
	Prompt       string
	Provider     string
	Model        string
	Root         string
	Status       string
	Error        string
	Turns        int
	InputTokens  int
	OutputTokens int
	StartedAt    string
	FinishedAt   string
}

// Call is one dispatched tool call belonging to a run.
type Call struct {
	ID        int64
	RunID     int64
	Turn      int
	CallID    string
	Name      string
	Arguments string
	Payload   string
	Failed    bool
	CreatedAt string
}

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)
