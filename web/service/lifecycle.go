package service

import (
	"time"

	"github.com/mhsanaei/xray-daemon/database/model"
	"github.com/mhsanaei/xray-daemon/xray"
)

// AccountState is the part of an account the lifecycle rules read and write.
type AccountState struct {
	Traffic        int64
	Quota          int64
	Active         bool
	Blocked        bool
	ResetTrafficAt time.Time
}

func stateOf(a *model.Account) AccountState {
	return AccountState{
		Traffic:        a.Traffic,
		Quota:          a.Quota,
		Active:         a.Active,
		Blocked:        a.Blocked,
		ResetTrafficAt: a.ResetTrafficAt,
	}
}

// engineUpdate selects the fields the reconciler owns. Quota and Blocked
// belong to the management API and are never written back by a pass.
func (s AccountState) engineUpdate() model.AccountUpdate {
	return model.AccountUpdate{
		Traffic:        &s.Traffic,
		Active:         &s.Active,
		ResetTrafficAt: &s.ResetTrafficAt,
	}
}

// Action is the remote operation a decision requires.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	}
	return "none"
}

// Decision is the outcome of evaluating one account for one pass.
type Decision struct {
	Next        AccountState
	Action      Action
	ResetDue    bool
	OverQuota   bool
	BlockForced bool // the block rule switched an active account off
}

// IsResetDue reports whether the traffic epoch that started at resetAt has
// ended. A non-positive period disables resets.
func IsResetDue(resetAt, now time.Time, period time.Duration) bool {
	return period > 0 && !now.Before(resetAt.Add(period))
}

// Evaluate applies the lifecycle rules to prev in order. Later rules
// overwrite what earlier ones set, so the order below is significant:
//
//  1. the caller sampled traffic with reset=resetDue
//  2. accumulate the sample unless a reset is due
//  3. deactivate an active account that is over quota
//  4. on reset, reactivate unless blocked, and start a new epoch
//  5. blocked accounts are never active
//  6. reactivate accounts that are neither blocked nor over quota
//  7. derive the remote action from the change of Active
func Evaluate(prev AccountState, sample xray.TrafficSample, resetDue bool, now time.Time) Decision {
	next := prev
	d := Decision{ResetDue: resetDue}

	if !resetDue {
		next.Traffic = sample.Total()
	}

	d.OverQuota = next.Quota != 0 && next.Traffic > next.Quota
	if d.OverQuota && next.Active {
		next.Active = false
	}

	if resetDue {
		if !next.Active && !next.Blocked {
			next.Active = true
		}
		next.Traffic = 0
		next.ResetTrafficAt = advance(next.ResetTrafficAt, now)
	}

	if next.Active && next.Blocked {
		next.Active = false
		d.BlockForced = true
	}

	if !next.Active && !next.Blocked && !d.OverQuota {
		next.Active = true
	}

	switch {
	case prev.Active && !next.Active:
		d.Action = ActionRemove
	case !prev.Active && next.Active:
		next.Traffic = 0
		next.ResetTrafficAt = advance(next.ResetTrafficAt, now)
		d.Action = ActionAdd
	}

	d.Next = next
	return d
}

// advance moves an epoch start to now, never backwards.
func advance(resetAt, now time.Time) time.Time {
	if now.Before(resetAt) {
		return resetAt
	}
	return now
}
