package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/audit"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

func connContext(buf *bytes.Buffer) context.Context {
	logger := log.NewWithWriter(log.Config{Level: "info"}, buf).
		With().Str(log.FieldConnID, "conn-1").Logger()
	return log.WithLogger(context.Background(), logger)
}

func TestLogWithDetail(t *testing.T) {
	var buf bytes.Buffer
	ctx := connContext(&buf)

	audit.LogWithDetail(ctx, audit.ActionRateLimited, "alice", "send rejected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, audit.ActionRateLimited, entry[audit.FieldAction])
	assert.Equal(t, "conn-1", entry[log.FieldConnID])
	assert.Equal(t, "alice", entry[audit.FieldDetail])
	assert.Equal(t, "send rejected", entry["message"])
}

func TestLog_ConnIDWrittenOnce(t *testing.T) {
	var buf bytes.Buffer
	ctx := connContext(&buf)

	audit.Log(ctx, audit.ActionJoin, "connection joined room")
	audit.LogWithDetail(ctx, audit.ActionLeave, "alice", "connection left room")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"`+log.FieldConnID+`"`), line)
	}
}
