package test

import (
	"context"
	"sync"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// RecordingNotifier captures lifecycle notifications for assertion.
type RecordingNotifier struct {
	mu        sync.Mutex
	Submitted []string
	Progress  []float64
	Terminal  []model.ExecutionStatus
	Undone    int
}

// NewRecordingNotifier creates an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) NotifySubmitted(ctx context.Context, execution *model.Execution) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Submitted = append(n.Submitted, execution.ID)
}

func (n *RecordingNotifier) NotifyProgress(ctx context.Context, execution *model.Execution, percent float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Progress = append(n.Progress, percent)
}

func (n *RecordingNotifier) NotifyTerminal(ctx context.Context, execution *model.Execution) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Terminal = append(n.Terminal, execution.Status)
}

func (n *RecordingNotifier) NotifyUndoCompleted(ctx context.Context, execution *model.Execution, restored, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Undone++
}

// TerminalStatuses returns the statuses seen by NotifyTerminal.
func (n *RecordingNotifier) TerminalStatuses() []model.ExecutionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.ExecutionStatus, len(n.Terminal))
	copy(out, n.Terminal)
	return out
}

// Verify interfaces
var _ ports.Notifier = (*RecordingNotifier)(nil)
