// Package codec encodes golem.OplogEntry values into the bytes stored in
// an IndexedStore slot and back. The wire format is a small fixed binary
// header (variant tag + timestamp) followed by a JSON-encoded payload body:
// binary framing keeps the tag dispatch and timestamp extraction allocation
// free, while JSON for the payload itself keeps each of the twenty-odd
// oplog variants trivial to add without hand-rolled field-by-field binary
// marshalling. This mirrors the Rust implementation's "stable binary
// envelope, serde body" approach to its own Oplog entry encoding.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
)

// tag is the single-byte wire representation of an OplogEntryKind.
type tag byte

const (
	tagCreate tag = iota + 1
	tagImportedFunctionInvoked
	tagExportedFunctionInvoked
	tagExportedFunctionCompleted
	tagSuspend
	tagError
	tagNoOp
	tagJump
	tagInterrupted
	tagExited
	tagChangeRetryPolicy
	tagBeginAtomicRegion
	tagEndAtomicRegion
	tagBeginRemoteWrite
	tagEndRemoteWrite
	tagPendingUpdate
	tagSuccessfulUpdate
	tagFailedUpdate
	tagGrowMemory
	tagCreateResource
	tagDropResource
	tagLog
	tagRevert
	tagCancelInvocation
	tagActivatePlugin
	tagDeactivatePlugin
)

var kindToTag = map[golem.OplogEntryKind]tag{
	golem.KindCreate:                    tagCreate,
	golem.KindImportedFunctionInvoked:   tagImportedFunctionInvoked,
	golem.KindExportedFunctionInvoked:   tagExportedFunctionInvoked,
	golem.KindExportedFunctionCompleted: tagExportedFunctionCompleted,
	golem.KindSuspend:                   tagSuspend,
	golem.KindError:                     tagError,
	golem.KindNoOp:                      tagNoOp,
	golem.KindJump:                      tagJump,
	golem.KindInterrupted:               tagInterrupted,
	golem.KindExited:                    tagExited,
	golem.KindChangeRetryPolicy:         tagChangeRetryPolicy,
	golem.KindBeginAtomicRegion:         tagBeginAtomicRegion,
	golem.KindEndAtomicRegion:           tagEndAtomicRegion,
	golem.KindBeginRemoteWrite:          tagBeginRemoteWrite,
	golem.KindEndRemoteWrite:            tagEndRemoteWrite,
	golem.KindPendingUpdate:             tagPendingUpdate,
	golem.KindSuccessfulUpdate:          tagSuccessfulUpdate,
	golem.KindFailedUpdate:              tagFailedUpdate,
	golem.KindGrowMemory:                tagGrowMemory,
	golem.KindCreateResource:            tagCreateResource,
	golem.KindDropResource:              tagDropResource,
	golem.KindLog:                       tagLog,
	golem.KindRevert:                    tagRevert,
	golem.KindCancelInvocation:          tagCancelInvocation,
	golem.KindActivatePlugin:            tagActivatePlugin,
	golem.KindDeactivatePlugin:          tagDeactivatePlugin,
}

func emptyPayload(t tag) (golem.OplogPayload, error) {
	switch t {
	case tagCreate:
		return &golem.CreateEntry{}, nil
	case tagImportedFunctionInvoked:
		return &golem.ImportedFunctionInvokedEntry{}, nil
	case tagExportedFunctionInvoked:
		return &golem.ExportedFunctionInvokedEntry{}, nil
	case tagExportedFunctionCompleted:
		return &golem.ExportedFunctionCompletedEntry{}, nil
	case tagSuspend:
		return &golem.SuspendEntry{}, nil
	case tagError:
		return &golem.ErrorEntry{}, nil
	case tagNoOp:
		return &golem.NoOpEntry{}, nil
	case tagJump:
		return &golem.JumpEntry{}, nil
	case tagInterrupted:
		return &golem.InterruptedEntry{}, nil
	case tagExited:
		return &golem.ExitedEntry{}, nil
	case tagChangeRetryPolicy:
		return &golem.ChangeRetryPolicyEntry{}, nil
	case tagBeginAtomicRegion:
		return &golem.BeginAtomicRegionEntry{}, nil
	case tagEndAtomicRegion:
		return &golem.EndAtomicRegionEntry{}, nil
	case tagBeginRemoteWrite:
		return &golem.BeginRemoteWriteEntry{}, nil
	case tagEndRemoteWrite:
		return &golem.EndRemoteWriteEntry{}, nil
	case tagPendingUpdate:
		return &golem.PendingUpdateEntry{}, nil
	case tagSuccessfulUpdate:
		return &golem.SuccessfulUpdateEntry{}, nil
	case tagFailedUpdate:
		return &golem.FailedUpdateEntry{}, nil
	case tagGrowMemory:
		return &golem.GrowMemoryEntry{}, nil
	case tagCreateResource:
		return &golem.CreateResourceEntry{}, nil
	case tagDropResource:
		return &golem.DropResourceEntry{}, nil
	case tagLog:
		return &golem.LogEntry{}, nil
	case tagRevert:
		return &golem.RevertEntry{}, nil
	case tagCancelInvocation:
		return &golem.CancelInvocationEntry{}, nil
	case tagActivatePlugin:
		return &golem.ActivatePluginEntry{}, nil
	case tagDeactivatePlugin:
		return &golem.DeactivatePluginEntry{}, nil
	default:
		return nil, golemerr.OplogFormatMismatch("codec: unknown tag %d", t)
	}
}

const headerLen = 1 + 8 // tag + unix nanos

// Encode serializes an entry's timestamp and payload; the index itself is
// not encoded, since it is implied by the IndexedStore slot the bytes are
// written into.
func Encode(timestamp time.Time, payload golem.OplogPayload) ([]byte, error) {
	t, ok := kindToTag[payload.Kind()]
	if !ok {
		return nil, fmt.Errorf("codec: no tag registered for kind %q", payload.Kind())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal payload: %w", err)
	}

	buf := make([]byte, headerLen+len(body))
	buf[0] = byte(t)
	binary.BigEndian.PutUint64(buf[1:9], uint64(timestamp.UnixNano()))
	copy(buf[headerLen:], body)
	return buf, nil
}

// Decode is the inverse of Encode, given the index the bytes came from.
func Decode(index golem.OplogIndex, data []byte) (golem.OplogEntry, error) {
	if len(data) < headerLen {
		return golem.OplogEntry{}, golemerr.OplogFormatMismatch("codec: truncated entry at index %d", index)
	}

	t := tag(data[0])
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(data[1:9])))

	payload, err := emptyPayload(t)
	if err != nil {
		return golem.OplogEntry{}, err
	}
	if err := json.Unmarshal(data[headerLen:], payload); err != nil {
		return golem.OplogEntry{}, golemerr.OplogFormatMismatch("codec: unmarshal payload at index %d: %v", index, err)
	}

	return golem.OplogEntry{Index: index, Timestamp: ts, Payload: payload}, nil
}
