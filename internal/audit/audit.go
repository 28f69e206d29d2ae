// Package audit writes structured audit entries for room lifecycle events.
package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

// Audit actions.
const (
	ActionJoin          = "room.join"
	ActionLeave         = "room.leave"
	ActionRateLimited   = "chat.rate_limited"
	ActionPersistFailed = "chat.persist_failed"
	ActionHibernate     = "room.hibernate"
	ActionClaimRejected = "room.claim_rejected"
	ActionLeaseLost     = "room.lease_lost"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger. Room and
// connection fields come from that logger.
func Log(ctx context.Context, action, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Msg(msg)
}

// LogWithDetail emits an audit log with an extra detail field.
func LogWithDetail(ctx context.Context, action, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldDetail, detail).
		Msg(msg)
}
