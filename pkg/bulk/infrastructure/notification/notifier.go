// Package notification provides the default Notifier implementation. It only
// logs lifecycle events; deployments with a real channel (chat, e-mail, webhooks)
// substitute their own ports.Notifier.
package notification

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// LogNotifier is a Notifier implementation that only logs notifications.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() ports.Notifier {
	logger.Infof("Notification: Initializing Log Notifier.")
	return &LogNotifier{}
}

// NotifySubmitted notifies that an execution was accepted.
func (n *LogNotifier) NotifySubmitted(ctx context.Context, execution *model.Execution) {
	logger.Infof(
		"Execution Notification: Execution '%s' (%s %s by '%s') submitted with Status: %s, TotalRecords: %d",
		execution.ID,
		execution.Action,
		execution.EntityType,
		execution.Actor,
		execution.Status,
		execution.TotalRecords,
	)
}

// NotifyProgress notifies a progress checkpoint.
func (n *LogNotifier) NotifyProgress(ctx context.Context, execution *model.Execution, percent float64) {
	logger.Infof(
		"Execution Notification: Execution '%s' progress %.1f%% (%d/%d processed, %d failed)",
		execution.ID,
		percent,
		execution.ProcessedRecords,
		execution.TotalRecords,
		execution.FailedRecords,
	)
}

// NotifyTerminal notifies that an execution reached a terminal status.
func (n *LogNotifier) NotifyTerminal(ctx context.Context, execution *model.Execution) {
	duration := time.Duration(0)
	if execution.StartTime != nil && execution.EndTime != nil {
		duration = execution.EndTime.Sub(*execution.StartTime)
	}

	message := fmt.Sprintf(
		"Execution Notification: Execution '%s' finished with Status: %s. Duration: %s, Processed: %d, Failed: %d",
		execution.ID,
		execution.Status,
		duration,
		execution.ProcessedRecords,
		execution.FailedRecords,
	)

	if execution.Status == model.ExecutionStatusCompleted {
		logger.Infof(message)
	} else {
		logger.Warnf(message)
	}
}

// NotifyUndoCompleted notifies the outcome of an undo pass.
func (n *LogNotifier) NotifyUndoCompleted(ctx context.Context, execution *model.Execution, restored, failed int) {
	message := fmt.Sprintf(
		"Execution Notification: Undo of execution '%s' finished. Restored: %d, Failed: %d",
		execution.ID,
		restored,
		failed,
	)
	if failed == 0 {
		logger.Infof(message)
	} else {
		logger.Warnf(message)
	}
}

var _ ports.Notifier = (*LogNotifier)(nil)
