package launch

// State identifies the orchestrator's position in the bootstrap sequence.
// Transitions run strictly forward; any failure before the entry point
// returns moves to StateFailed.
type State uint8

const (
	StateInit State = iota
	StateArchiveResolved
	StateClasspathBuilt
	StateLoaderReady
	StateMainInvoked
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateArchiveResolved:
		return "archive-resolved"
	case StateClasspathBuilt:
		return "classpath-built"
	case StateLoaderReady:
		return "loader-ready"
	case StateMainInvoked:
		return "main-invoked"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
