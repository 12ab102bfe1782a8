// Package notify is the ambient notification surface (SPEC_FULL §14 lists
// notification delivery itself as a non-goal; this package only models the
// interface every workflow alerts through, per SPEC_FULL §13's "external
// collaborator, stub"). The only implementation here logs the alert; wiring
// a real channel (Slack, email, PagerDuty) is future work with no SPEC_FULL
// component depending on it today.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/workflows"
)

// LogNotifier implements workflows.Notifier by logging at Warn level. It is
// the default Notifier internal/di wires when no other channel is
// configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds a LogNotifier bound to log.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

var _ workflows.Notifier = (*LogNotifier)(nil)

// Alert logs group/message at Warn level. Never returns an error — a
// logging-only notifier can't fail in a way a caller should react to.
func (n *LogNotifier) Alert(ctx context.Context, group, message string) error {
	n.log.Warn().Str("group", group).Msg(message)
	return nil
}
