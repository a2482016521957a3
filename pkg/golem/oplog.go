package golem

import "time"

// OplogEntryKind tags the concrete type carried by an OplogEntry so the
// binary codec can dispatch without reflection and so replay can switch on
// a plain string instead of a type assertion chain.
type OplogEntryKind string

const (
	KindCreate                OplogEntryKind = "create"
	KindImportedFunctionInvoked OplogEntryKind = "imported-function-invoked"
	KindExportedFunctionInvoked OplogEntryKind = "exported-function-invoked"
	KindExportedFunctionCompleted OplogEntryKind = "exported-function-completed"
	KindSuspend               OplogEntryKind = "suspend"
	KindError                 OplogEntryKind = "error"
	KindNoOp                  OplogEntryKind = "no-op"
	KindJump                  OplogEntryKind = "jump"
	KindInterrupted           OplogEntryKind = "interrupted"
	KindExited                OplogEntryKind = "exited"
	KindChangeRetryPolicy     OplogEntryKind = "change-retry-policy"
	KindBeginAtomicRegion     OplogEntryKind = "begin-atomic-region"
	KindEndAtomicRegion       OplogEntryKind = "end-atomic-region"
	KindBeginRemoteWrite      OplogEntryKind = "begin-remote-write"
	KindEndRemoteWrite        OplogEntryKind = "end-remote-write"
	KindPendingUpdate         OplogEntryKind = "pending-update"
	KindSuccessfulUpdate      OplogEntryKind = "successful-update"
	KindFailedUpdate          OplogEntryKind = "failed-update"
	KindGrowMemory            OplogEntryKind = "grow-memory"
	KindCreateResource        OplogEntryKind = "create-resource"
	KindDropResource          OplogEntryKind = "drop-resource"
	KindLog                   OplogEntryKind = "log"
	KindRevert                OplogEntryKind = "revert"
	KindCancelInvocation      OplogEntryKind = "cancel-invocation"
	KindActivatePlugin        OplogEntryKind = "activate-plugin"
	KindDeactivatePlugin      OplogEntryKind = "deactivate-plugin"
)

// OplogPayload is implemented by every concrete oplog entry variant. Kind
// identifies the variant for the codec; the struct fields carry the data.
type OplogPayload interface {
	Kind() OplogEntryKind
}

// OplogEntry is one record in a worker's append-only log: a timestamp, the
// index it occupies and the tagged payload.
type OplogEntry struct {
	Index     OplogIndex
	Timestamp time.Time
	Payload   OplogPayload
}

// CreateEntry is always oplog index 1: the worker's birth certificate.
type CreateEntry struct {
	WorkerId         WorkerId
	ComponentVersion ComponentVersion
	Args             []string
	Env              map[string]string
	AgentMode        AgentMode
	Parent           *WorkerId
}

func (CreateEntry) Kind() OplogEntryKind { return KindCreate }

// ImportedFunctionInvokedEntry records a host-import call's result so
// replay can return it without re-executing the (possibly non-deterministic
// or side-effecting) call.
type ImportedFunctionInvokedEntry struct {
	FunctionName      string
	Request           []byte
	Response          []byte
	DurableFunctionType DurableFunctionType
}

func (ImportedFunctionInvokedEntry) Kind() OplogEntryKind { return KindImportedFunctionInvoked }

// ExportedFunctionInvokedEntry records the start of a guest-exported
// function invocation (an RPC call into the worker).
type ExportedFunctionInvokedEntry struct {
	FunctionName   string
	Request        []byte
	IdempotencyKey IdempotencyKey
}

func (ExportedFunctionInvokedEntry) Kind() OplogEntryKind { return KindExportedFunctionInvoked }

// ExportedFunctionCompletedEntry pairs with an ExportedFunctionInvokedEntry
// earlier in the log and carries the result payload plus consumed fuel.
type ExportedFunctionCompletedEntry struct {
	Response       []byte
	ConsumedFuel   int64
}

func (ExportedFunctionCompletedEntry) Kind() OplogEntryKind { return KindExportedFunctionCompleted }

// SuspendEntry marks the worker as having voluntarily yielded control.
type SuspendEntry struct{}

func (SuspendEntry) Kind() OplogEntryKind { return KindSuspend }

// ErrorEntry records a trap/failure that ended the current invocation
// attempt.
type ErrorEntry struct {
	Message string
}

func (ErrorEntry) Kind() OplogEntryKind { return KindError }

// NoOpEntry is a placeholder written by compaction/padding logic; it
// carries no information and must be skipped identically by every reader.
type NoOpEntry struct{}

func (NoOpEntry) Kind() OplogEntryKind { return KindNoOp }

// JumpEntry redirects replay: entries in [Start, End) are skipped without
// being deleted, allowing multiple jumps to overlap over the log's history.
type JumpEntry struct {
	Start OplogIndex
	End   OplogIndex
}

func (JumpEntry) Kind() OplogEntryKind { return KindJump }

// InterruptedEntry records that the worker was interrupted mid-invocation,
// distinct from Suspend in that it implies the invoker should be notified.
type InterruptedEntry struct{}

func (InterruptedEntry) Kind() OplogEntryKind { return KindInterrupted }

// ExitedEntry marks terminal, successful completion of the worker's
// lifetime; no further invocations are possible afterwards.
type ExitedEntry struct{}

func (ExitedEntry) Kind() OplogEntryKind { return KindExited }

// ChangeRetryPolicyEntry overrides the worker's retry policy from this
// point in the log onward.
type ChangeRetryPolicyEntry struct {
	Policy RetryConfig
}

func (ChangeRetryPolicyEntry) Kind() OplogEntryKind { return KindChangeRetryPolicy }

// BeginAtomicRegionEntry/EndAtomicRegionEntry bracket a sequence of host
// calls that must be replayed as a single unit: if replay stops partway
// through the bracket, the whole region restarts from Begin.
type BeginAtomicRegionEntry struct{}

func (BeginAtomicRegionEntry) Kind() OplogEntryKind { return KindBeginAtomicRegion }

type EndAtomicRegionEntry struct {
	BeginIndex OplogIndex
}

func (EndAtomicRegionEntry) Kind() OplogEntryKind { return KindEndAtomicRegion }

// BeginRemoteWriteEntry/EndRemoteWriteEntry bracket a remote side-effecting
// write whose completion must be confirmed exactly once, even across a
// crash between Begin and End.
type BeginRemoteWriteEntry struct{}

func (BeginRemoteWriteEntry) Kind() OplogEntryKind { return KindBeginRemoteWrite }

type EndRemoteWriteEntry struct {
	BeginIndex OplogIndex
}

func (EndRemoteWriteEntry) Kind() OplogEntryKind { return KindEndRemoteWrite }

// PendingUpdateEntry records an update request against a running worker.
type PendingUpdateEntry struct {
	Description UpdateDescription
}

func (PendingUpdateEntry) Kind() OplogEntryKind { return KindPendingUpdate }

// SuccessfulUpdateEntry/FailedUpdateEntry resolve a PendingUpdateEntry.
type SuccessfulUpdateEntry struct {
	TargetVersion ComponentVersion
}

func (SuccessfulUpdateEntry) Kind() OplogEntryKind { return KindSuccessfulUpdate }

type FailedUpdateEntry struct {
	TargetVersion ComponentVersion
	Details       string
}

func (FailedUpdateEntry) Kind() OplogEntryKind { return KindFailedUpdate }

// GrowMemoryEntry records a linear memory growth so replay can
// deterministically reproduce the same memory layout.
type GrowMemoryEntry struct {
	Delta uint64
}

func (GrowMemoryEntry) Kind() OplogEntryKind { return KindGrowMemory }

// CreateResourceEntry/DropResourceEntry track WIT resource handle lifetimes
// so replay reassigns identical handle numbers.
type CreateResourceEntry struct {
	ResourceId uint64
}

func (CreateResourceEntry) Kind() OplogEntryKind { return KindCreateResource }

type DropResourceEntry struct {
	ResourceId uint64
}

func (DropResourceEntry) Kind() OplogEntryKind { return KindDropResource }

// LogEntry captures a guest-emitted log line so tooling can reconstruct
// the worker's console output without re-running it.
type LogEntry struct {
	Level   string
	Context string
	Message string
}

func (LogEntry) Kind() OplogEntryKind { return KindLog }

// RevertEntry truncates the log's replay view back to TargetIndex; unlike
// Jump it always targets the current tail.
type RevertEntry struct {
	TargetIndex OplogIndex
}

func (RevertEntry) Kind() OplogEntryKind { return KindRevert }

// CancelInvocationEntry marks a previously enqueued invocation (identified
// by idempotency key) as cancelled before it ran.
type CancelInvocationEntry struct {
	IdempotencyKey IdempotencyKey
}

func (CancelInvocationEntry) Kind() OplogEntryKind { return KindCancelInvocation }

// ActivatePluginEntry/DeactivatePluginEntry record that a named plugin was
// (de)activated against this worker, so replay can reconstruct which
// plugins were live at any given point without consulting the plugin
// registry's current configuration.
type ActivatePluginEntry struct {
	PluginName string
}

func (ActivatePluginEntry) Kind() OplogEntryKind { return KindActivatePlugin }

type DeactivatePluginEntry struct {
	PluginName string
}

func (DeactivatePluginEntry) Kind() OplogEntryKind { return KindDeactivatePlugin }
