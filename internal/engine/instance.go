package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/agentic/internal/vars"
	"github.com/rendis/agentic/pkg/schema"
)

// Instance is one live execution of an agent definition. All mutable fields
// are guarded by mu; the executor goroutine is the only writer of stateKey,
// actionIndex and result, but readers (Status, DeliverInput, snapshots) run
// on other goroutines.
type Instance struct {
	id          string
	def         *schema.AgentDefinition
	parentID    string
	outputLabel string
	background  bool

	vars    *vars.Store
	inputCh chan string
	done    chan struct{}
	cancel  context.CancelFunc

	mu            sync.Mutex
	status        schema.InstanceStatus
	resumeClaimed bool
	stateKey      string
	actionIndex int
	input       string
	result      string
	failure     *schema.AgenticError
	children    []*Instance
}

// InstanceSnapshot is a point-in-time view of an instance, safe to hand to
// callers outside the engine.
type InstanceSnapshot struct {
	ID          string                `json:"id"`
	AgentLabel  string                `json:"agent_label"`
	ParentID    string                `json:"parent_id,omitempty"`
	Status      schema.InstanceStatus `json:"status"`
	StateKey    string                `json:"state_key,omitempty"`
	ActionIndex int                   `json:"action_index"`
	Result      string                `json:"result,omitempty"`
	Error       *schema.AgenticError  `json:"error,omitempty"`
	Vars        map[string]string     `json:"vars,omitempty"`
	Children    []string              `json:"children,omitempty"`
}

func newInstance(def *schema.AgentDefinition, input string) *Instance {
	return &Instance{
		id:       uuid.NewString(),
		def:      def,
		vars:     vars.New(),
		inputCh:  make(chan string, 1),
		done:     make(chan struct{}),
		status:   schema.StatusPending,
		stateKey: def.InitialStateKey,
		input:    input,
	}
}

// ID returns the instance's unique identifier.
func (in *Instance) ID() string { return in.id }

// Label returns the agent definition label.
func (in *Instance) Label() string { return in.def.Label }

// Status returns the current lifecycle status.
func (in *Instance) Status() schema.InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Result returns the current result slot.
func (in *Instance) Result() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.result
}

// Failure returns the terminal error, or nil.
func (in *Instance) Failure() *schema.AgenticError {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.failure
}

// Done is closed when the instance reaches a terminal status.
func (in *Instance) Done() <-chan struct{} { return in.done }

// Snapshot returns a consistent view of the instance.
func (in *Instance) Snapshot() InstanceSnapshot {
	in.mu.Lock()
	defer in.mu.Unlock()

	children := make([]string, 0, len(in.children))
	for _, c := range in.children {
		children = append(children, c.id)
	}
	return InstanceSnapshot{
		ID:          in.id,
		AgentLabel:  in.def.Label,
		ParentID:    in.parentID,
		Status:      in.status,
		StateKey:    in.stateKey,
		ActionIndex: in.actionIndex,
		Result:      in.result,
		Error:       in.failure,
		Vars:        in.vars.Snapshot(),
		Children:    children,
	}
}

// offerInput hands input to a waiting instance, exactly once per suspension.
// The claim flag closes the window between the executor receiving a value
// and the status leaving WaitingForInput: until the next status change a
// second delivery is rejected even though the channel has room again.
func (in *Instance) offerInput(value string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.status != schema.StatusWaitingForInput {
		return schema.NewErrorf(schema.ErrCodeInputRejected,
			"instance is %s, not waiting for input", in.status).WithInstance(in.id)
	}
	if in.resumeClaimed {
		return schema.NewErrorf(schema.ErrCodeInputRejected,
			"input already accepted for this suspension").WithInstance(in.id)
	}
	select {
	case in.inputCh <- value:
		in.resumeClaimed = true
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeInputRejected, "input already pending").WithInstance(in.id)
	}
}

func (in *Instance) setStatus(s schema.InstanceStatus) {
	in.mu.Lock()
	in.status = s
	in.resumeClaimed = false
	in.mu.Unlock()
}

func (in *Instance) setPosition(stateKey string, actionIndex int) {
	in.mu.Lock()
	in.stateKey = stateKey
	in.actionIndex = actionIndex
	in.mu.Unlock()
}

func (in *Instance) setResult(value string) {
	in.mu.Lock()
	in.result = value
	in.mu.Unlock()
}

func (in *Instance) setFailure(err *schema.AgenticError) {
	in.mu.Lock()
	in.failure = err
	in.mu.Unlock()
}

func (in *Instance) addChild(child *Instance) {
	in.mu.Lock()
	in.children = append(in.children, child)
	in.mu.Unlock()
}

// childInstances returns a copy of the children slice.
func (in *Instance) childInstances() []*Instance {
	in.mu.Lock()
	defer in.mu.Unlock()
	cp := make([]*Instance, len(in.children))
	copy(cp, in.children)
	return cp
}

// finish marks the instance done. Called exactly once by the executor.
func (in *Instance) finish() {
	close(in.done)
}
