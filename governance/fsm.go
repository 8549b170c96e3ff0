package governance

import (
	"context"

	"github.com/looplab/fsm"
)

// proposalFSM wraps a looplab/fsm.FSM driving a single Proposal's Status,
// the same per-instance state-machine shape ctor.Activation uses for
// CTOR's activation window.
type proposalFSM struct {
	fsm *fsm.FSM
}

const (
	evActivate = "activate"
	evApprove  = "approve"
	evReject   = "reject"
	evExpire   = "expire"
	evExecute  = "execute"
	evFail     = "fail"
)

// newProposalFSM builds the PENDING -> ACTIVE -> {APPROVED, REJECTED,
// EXPIRED} -> {EXECUTED, FAILED} machine from spec §4.7's proposal life
// cycle. onExecuted runs as the enter_EXECUTED callback, i.e. exactly
// when the FSM transitions into StatusExecuted's string name.
func newProposalFSM(onExecuted func(ctx context.Context, e *fsm.Event)) *proposalFSM {
	callbacks := fsm.Callbacks{}
	if onExecuted != nil {
		callbacks["enter_"+StatusExecuted.String()] = onExecuted
	}

	f := fsm.NewFSM(
		StatusPending.String(),
		fsm.Events{
			{Name: evActivate, Src: []string{StatusPending.String()}, Dst: StatusActive.String()},
			{Name: evApprove, Src: []string{StatusActive.String()}, Dst: StatusApproved.String()},
			{Name: evReject, Src: []string{StatusActive.String()}, Dst: StatusRejected.String()},
			{Name: evExpire, Src: []string{StatusActive.String()}, Dst: StatusExpired.String()},
			{Name: evExecute, Src: []string{StatusApproved.String()}, Dst: StatusExecuted.String()},
			{Name: evFail, Src: []string{StatusApproved.String()}, Dst: StatusFailed.String()},
		},
		callbacks,
	)

	return &proposalFSM{fsm: f}
}

func parseStatus(name string) Status {
	switch name {
	case "PENDING":
		return StatusPending
	case "ACTIVE":
		return StatusActive
	case "APPROVED":
		return StatusApproved
	case "REJECTED":
		return StatusRejected
	case "EXECUTED":
		return StatusExecuted
	case "FAILED":
		return StatusFailed
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusPending
	}
}

func (p *Proposal) fire(ctx context.Context, event string) error {
	if err := p.fsmState.fsm.Event(ctx, event); err != nil {
		return err
	}
	p.Status = parseStatus(p.fsmState.fsm.Current())
	return nil
}
