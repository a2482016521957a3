package codec_test

import (
	"testing"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/golemerr"
	"github.com/golem-go/golem/pkg/oplog/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Round(time.Nanosecond)

	cases := []golem.OplogPayload{
		&golem.CreateEntry{
			WorkerId:         golem.WorkerId{WorkerName: "w1"},
			ComponentVersion: 3,
			Args:             []string{"--flag"},
			Env:              map[string]string{"FOO": "bar"},
			AgentMode:        golem.AgentModeDurable,
		},
		&golem.ImportedFunctionInvokedEntry{
			FunctionName: "wasi:clocks/now",
			Request:      []byte("req"),
			Response:     []byte("resp"),
		},
		&golem.SuspendEntry{},
		&golem.JumpEntry{Start: 5, End: 9},
		&golem.RevertEntry{TargetIndex: 12},
		&golem.LogEntry{Level: "info", Message: "hello"},
	}

	for _, payload := range cases {
		encoded, err := codec.Encode(now, payload)
		require.NoError(t, err)

		decoded, err := codec.Decode(42, encoded)
		require.NoError(t, err)

		assert.EqualValues(t, 42, decoded.Index)
		assert.True(t, now.Equal(decoded.Timestamp))
		assert.Equal(t, payload.Kind(), decoded.Payload.Kind())
		assert.Equal(t, payload, decoded.Payload)
	}
}

func TestDecodeTruncatedEntryErrors(t *testing.T) {
	_, err := codec.Decode(1, []byte{0x01})
	assert.True(t, golemerr.Is(err, golemerr.CodeOplogFormatMismatch), "truncated entry must surface as OplogFormatMismatch, got %v", err)
}

func TestDecodeUnknownTagErrors(t *testing.T) {
	now := time.Now()
	encoded, err := codec.Encode(now, &golem.SuspendEntry{})
	require.NoError(t, err)
	encoded[0] = 0xFF // no variant registered for this tag

	_, err = codec.Decode(1, encoded)
	assert.True(t, golemerr.Is(err, golemerr.CodeOplogFormatMismatch), "unknown tag must surface as OplogFormatMismatch, got %v", err)
}
