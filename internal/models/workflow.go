package models

import "time"

// BlockType enumerates the closed set of block kinds the engine can execute.
// The interpreter dispatches on this with an exhaustive switch; adding a kind
// means extending that switch, not registering a handler at runtime.
type BlockType string

const (
	BlockTypeStart         BlockType = "start"
	BlockTypeEnd           BlockType = "end"
	BlockTypeIf            BlockType = "if"
	BlockTypeSwitch        BlockType = "switch"
	BlockTypeForEach       BlockType = "forEach"
	BlockTypeHTTPRequest   BlockType = "httpRequest"
	BlockTypeTransform     BlockType = "transform"
	BlockTypeSetVariable   BlockType = "setVariable"
	BlockTypeRunPromptFlow BlockType = "runPromptFlow"
	BlockTypeWaitForInput  BlockType = "waitForInput"
	BlockTypeGetRow        BlockType = "getRow"
	BlockTypeCreateRow     BlockType = "createRow"
	BlockTypeUpdateRow     BlockType = "updateRow"
	BlockTypeDeleteRow     BlockType = "deleteRow"
	BlockTypeCountRows     BlockType = "countRows"
)

// AllBlockTypes lists every valid block kind, used by definition validation.
var AllBlockTypes = []BlockType{
	BlockTypeStart, BlockTypeEnd, BlockTypeIf, BlockTypeSwitch, BlockTypeForEach,
	BlockTypeHTTPRequest, BlockTypeTransform, BlockTypeSetVariable,
	BlockTypeRunPromptFlow, BlockTypeWaitForInput,
	BlockTypeGetRow, BlockTypeCreateRow, BlockTypeUpdateRow, BlockTypeDeleteRow,
	BlockTypeCountRows,
}

// Valid reports whether t is one of the known block kinds.
func (t BlockType) Valid() bool {
	for _, known := range AllBlockTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Binding is a declarative reference resolved at execution time.
// Exactly one of Path or Value is meaningful: a non-empty Path references
// workflow input ($.input.x), a prior block's output ($.blocks.<id>.output.x)
// or the current loop scope ($.loop.item / $.loop.index); otherwise Value is
// taken as a literal constant.
type Binding struct {
	Path  string `json:"path,omitempty" bson:"path,omitempty"`
	Value any    `json:"value,omitempty" bson:"value,omitempty"`
}

// IsLiteral reports whether the binding carries a constant rather than a reference.
func (b Binding) IsLiteral() bool {
	return b.Path == ""
}

// Condition compares two resolved bindings with a type-aware operator.
type Condition struct {
	Left     Binding `json:"left" bson:"left"`
	Operator string  `json:"operator" bson:"operator"`
	Right    Binding `json:"right" bson:"right"`
}

// ConditionsGroup combines conditions with AND/OR semantics. For `if` blocks a
// definition carries exactly one group; for `switch` blocks an ordered list of
// case groups, first match wins.
type ConditionsGroup struct {
	Index      int         `json:"index" bson:"index"`
	Type       string      `json:"type" bson:"type"` // "AND" or "OR"
	Conditions []Condition `json:"conditions" bson:"conditions"`
}

// Edge is a directed connection between two blocks. Label selects the branch:
// empty for straight-line flow, "true"/"false" out of an `if`, the case index
// (or "default") out of a `switch`, and "loop"/"done" out of a `forEach`.
type Edge struct {
	SourceBlockID string `json:"sourceBlockId" bson:"sourceBlockId"`
	Label         string `json:"label,omitempty" bson:"label,omitempty"`
	TargetBlockID string `json:"targetBlockId" bson:"targetBlockId"`
}

// Edge labels with fixed meaning.
const (
	EdgeLabelTrue    = "true"
	EdgeLabelFalse   = "false"
	EdgeLabelDefault = "default"
	EdgeLabelLoop    = "loop"
	EdgeLabelDone    = "done"
)

// Block is a single typed step in a workflow definition.
type Block struct {
	ID   string    `json:"id" bson:"id"`
	Type BlockType `json:"type" bson:"type"`
	Name string    `json:"name,omitempty" bson:"name,omitempty"`

	// Input maps executor input keys to bindings resolved against the
	// execution scope just before the block runs.
	Input map[string]Binding `json:"input,omitempty" bson:"input,omitempty"`

	// Config carries type-specific settings (URL/method/headers for
	// httpRequest, title/placeholder for waitForInput, entity for row
	// blocks, promptFlowId for runPromptFlow, ...).
	Config map[string]any `json:"config,omitempty" bson:"config,omitempty"`

	// ConditionGroups: exactly one group for `if`, the ordered case list
	// for `switch`. Empty for every other kind.
	ConditionGroups []ConditionsGroup `json:"conditionGroups,omitempty" bson:"conditionGroups,omitempty"`

	// Collection is the sequence binding a `forEach` iterates over.
	Collection *Binding `json:"collection,omitempty" bson:"collection,omitempty"`

	// RetryConfig enables block-level retries on transient faults.
	// Only honored by side-effecting blocks; the engine itself never retries.
	RetryConfig *RetryConfig `json:"retryConfig,omitempty" bson:"retryConfig,omitempty"`
}

// RetryConfig specifies automatic retry behavior for a block on transient failures.
type RetryConfig struct {
	MaxRetries   int      `json:"maxRetries" bson:"maxRetries"`
	RetryOn      []string `json:"retryOn,omitempty" bson:"retryOn,omitempty"` // ["rate_limit", "timeout", "server_error", "network_error", "all_transient"]
	BackoffMs    int      `json:"backoffMs,omitempty" bson:"backoffMs,omitempty"`
	MaxBackoffMs int      `json:"maxBackoffMs,omitempty" bson:"maxBackoffMs,omitempty"`
}

// InputField declares one field of a workflow's input schema. Validation is
// best effort: required fields are enforced, extras are tolerated.
type InputField struct {
	Name     string `json:"name" bson:"name"`
	Type     string `json:"type,omitempty" bson:"type,omitempty"` // string, number, boolean, array, object
	Required bool   `json:"required,omitempty" bson:"required,omitempty"`
}

// WorkflowDefinition is the static, validated workflow graph. Only live
// definitions are runnable; publishing flips IsLive after validation.
type WorkflowDefinition struct {
	ID            string                    `json:"id" bson:"_id,omitempty"`
	TenantID      string                    `json:"tenantId" bson:"tenantId"`
	Name          string                    `json:"name" bson:"name"`
	IsLive        bool                      `json:"isLive" bson:"isLive"`
	Version       int                       `json:"version" bson:"version"`
	Blocks        []Block                   `json:"blocks" bson:"blocks"`
	Edges         []Edge                    `json:"edges" bson:"edges"`
	InputSchema   []InputField              `json:"inputSchema,omitempty" bson:"inputSchema,omitempty"`
	InputExamples map[string]map[string]any `json:"inputExamples,omitempty" bson:"inputExamples,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time                 `json:"updatedAt" bson:"updatedAt"`
}

// BlockByID returns the block with the given id, or nil.
func (d *WorkflowDefinition) BlockByID(id string) *Block {
	for i := range d.Blocks {
		if d.Blocks[i].ID == id {
			return &d.Blocks[i]
		}
	}
	return nil
}

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusWaitingBlock ExecutionStatus = "waitingBlock"
	ExecutionStatusSuccess      ExecutionStatus = "success"
	ExecutionStatusError        ExecutionStatus = "error"
)

// IsTerminal reports whether the status is final. waitingBlock is a suspended,
// resumable state, not a terminal one.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusError
}

// BlockRunStatus is the state of a single block execution instance.
type BlockRunStatus string

const (
	BlockRunStatusRunning BlockRunStatus = "running"
	BlockRunStatusSuccess BlockRunStatus = "success"
	BlockRunStatusError   BlockRunStatus = "error"
)

// BlockRun records one execution instance of one block. A looped block
// produces one BlockRun per iteration, disambiguated by IterationPath
// ("" outside loops, "2" for the third iteration, "2/0" when loops nest).
type BlockRun struct {
	ID            string         `json:"id" bson:"id"`
	BlockID       string         `json:"blockId" bson:"blockId"`
	IterationPath string         `json:"iterationPath,omitempty" bson:"iterationPath,omitempty"`
	Status        BlockRunStatus `json:"status" bson:"status"`
	Input         map[string]any `json:"input,omitempty" bson:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty" bson:"output,omitempty"`
	Error         string         `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt     time.Time      `json:"startedAt" bson:"startedAt"`
	EndedAt       *time.Time     `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}

// WaitingBlockInput is the prompt rendered to whoever supplies the input.
type WaitingBlockInput struct {
	Title       string `json:"title,omitempty" bson:"title,omitempty"`
	Placeholder string `json:"placeholder,omitempty" bson:"placeholder,omitempty"`
}

// WaitingBlock describes the suspension point of an execution with
// status=waitingBlock. Cleared atomically when the execution resumes.
type WaitingBlock struct {
	BlockID string            `json:"blockId" bson:"blockId"`
	Input   WaitingBlockInput `json:"input" bson:"input"`
}

// Session identifies the tenant/user on whose behalf a run executes.
type Session struct {
	TenantID string `json:"tenantId" bson:"tenantId"`
	UserID   string `json:"userId" bson:"userId"`
}

// Execution is one run of a workflow definition against concrete input.
// Mutated by the engine after every block; immutable once terminal.
type Execution struct {
	ID           string          `json:"id" bson:"_id,omitempty"`
	WorkflowID   string          `json:"workflowId" bson:"workflowId"`
	Status       ExecutionStatus `json:"status" bson:"status"`
	Input        map[string]any  `json:"input,omitempty" bson:"input,omitempty"`
	BlockRuns    []BlockRun      `json:"blockRuns" bson:"blockRuns"`
	WaitingBlock *WaitingBlock   `json:"waitingBlock,omitempty" bson:"waitingBlock,omitempty"`
	Error        string          `json:"error,omitempty" bson:"error,omitempty"`
	Session      Session         `json:"session" bson:"session"`
	CreatedAt    time.Time       `json:"createdAt" bson:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	ExpiresAt    time.Time       `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
}

// LatestRunFor returns the most recent BlockRun for a block id, or nil.
func (e *Execution) LatestRunFor(blockID string) *BlockRun {
	for i := len(e.BlockRuns) - 1; i >= 0; i-- {
		if e.BlockRuns[i].BlockID == blockID {
			return &e.BlockRuns[i]
		}
	}
	return nil
}

// Clone returns a deep-enough copy for publishing: the BlockRuns slice and
// WaitingBlock pointer are copied so a subscriber never observes later
// engine mutations. Map payloads are treated as write-once by the engine.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.BlockRuns = make([]BlockRun, len(e.BlockRuns))
	copy(cp.BlockRuns, e.BlockRuns)
	if e.WaitingBlock != nil {
		wb := *e.WaitingBlock
		cp.WaitingBlock = &wb
	}
	return &cp
}

// Row is one record in the tenant row datastore consumed by the row blocks.
type Row struct {
	ID        string         `json:"id" bson:"_id,omitempty"`
	TenantID  string         `json:"tenantId" bson:"tenantId"`
	Entity    string         `json:"entity" bson:"entity"`
	Data      map[string]any `json:"data" bson:"data"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt" bson:"updatedAt"`
}
