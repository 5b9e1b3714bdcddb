package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mhsanaei/xray-daemon/database/model"
	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/util/common"
	"github.com/mhsanaei/xray-daemon/xray"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// ErrPassInProgress is returned by RunPass when another pass has not finished.
var ErrPassInProgress = errors.New("reconcile pass already in progress")

const defaultWorkers = 8

// AccountStore is the persistence the reconciler needs.
type AccountStore interface {
	GetAccounts() ([]*model.Account, error)
	UpdateAccount(inboundTag, email string, update model.AccountUpdate) (bool, error)
}

// UserProvisioner adds and removes users on xray inbounds.
type UserProvisioner interface {
	AddUser(ctx context.Context, user *xray.User) error
	RemoveUser(ctx context.Context, inboundTag, email string) error
}

// ReconcileAPI is the part of the xray adapter a pass drives.
type ReconcileAPI interface {
	UserProvisioner
	GetUserTraffic(ctx context.Context, email string, reset bool) xray.TrafficSample
}

// Outcome classifies how one account fared in a pass.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeActivated
	OutcomeActivationFailed
	OutcomeDeactivated
	OutcomeDeactivationFailed
	OutcomeSampleFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActivated:
		return "activated"
	case OutcomeActivationFailed:
		return "activation failed"
	case OutcomeDeactivated:
		return "deactivated"
	case OutcomeDeactivationFailed:
		return "deactivation failed"
	case OutcomeSampleFailed:
		return "sample failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unchanged"
}

// AccountResult is the per-account record of a pass.
type AccountResult struct {
	InboundTag  string
	Email       string
	Outcome     Outcome
	Blocked     bool
	StoreFailed bool
	Err         error
}

// PassSummary aggregates the results of one pass.
type PassSummary struct {
	StartedAt          time.Time     `json:"startedAt"`
	Duration           time.Duration `json:"duration"`
	Total              int           `json:"total"`
	Activated          int           `json:"activated"`
	Deactivated        int           `json:"deactivated"`
	ActivationFailed   int           `json:"activationFailed"`
	DeactivationFailed int           `json:"deactivationFailed"`
	Unchanged          int           `json:"unchanged"`
	SampleFailed       int           `json:"sampleFailed"`
	Blocked            int           `json:"blocked"`
	Skipped            int           `json:"skipped"`
	StoreFailed        int           `json:"storeFailed"`

	activatedEmails   []string
	deactivatedEmails []string
	blockedEmails     []string
}

func (s *PassSummary) add(r AccountResult) {
	s.Total++
	switch r.Outcome {
	case OutcomeActivated:
		s.Activated++
		s.activatedEmails = append(s.activatedEmails, r.Email)
	case OutcomeActivationFailed:
		s.ActivationFailed++
	case OutcomeDeactivated:
		s.Deactivated++
		if r.Blocked {
			s.Blocked++
			s.blockedEmails = append(s.blockedEmails, r.Email)
		} else {
			s.deactivatedEmails = append(s.deactivatedEmails, r.Email)
		}
	case OutcomeDeactivationFailed:
		s.DeactivationFailed++
	case OutcomeSampleFailed:
		s.SampleFailed++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Unchanged++
	}
	if r.StoreFailed {
		s.StoreFailed++
	}
}

func (s *PassSummary) log() {
	logger.Infof("reconcile: %d accounts in %v: %d activated, %d deactivated (%d blocked), %d unchanged, %d failed, %d skipped",
		s.Total, s.Duration.Round(time.Millisecond), s.Activated, s.Deactivated, s.Blocked, s.Unchanged,
		s.ActivationFailed+s.DeactivationFailed+s.SampleFailed, s.Skipped)
	if len(s.activatedEmails) > 0 {
		logger.Infof("reconcile: activated %s", strings.Join(s.activatedEmails, ", "))
	}
	if len(s.deactivatedEmails) > 0 {
		logger.Infof("reconcile: deactivated over quota %s", strings.Join(s.deactivatedEmails, ", "))
	}
	if len(s.blockedEmails) > 0 {
		logger.Infof("reconcile: deactivated blocked %s", strings.Join(s.blockedEmails, ", "))
	}
	if s.StoreFailed > 0 {
		logger.Warningf("reconcile: %d account states could not be persisted", s.StoreFailed)
	}
}

// ReconcileConfig tunes a ReconcileService. Zero values select defaults.
type ReconcileConfig struct {
	// ResetPeriod is the length of a traffic epoch; zero disables resets.
	ResetPeriod time.Duration
	Workers     int
	Now         func() time.Time
}

// ReconcileService runs reconciliation passes: it samples every account's
// traffic, applies the lifecycle rules, drives xray to match and persists
// the result. At most one pass runs at a time.
type ReconcileService struct {
	store       AccountStore
	api         ReconcileAPI
	resetPeriod time.Duration
	workers     int
	now         func() time.Time

	running    atomic.Bool
	background sync.WaitGroup

	mu   sync.RWMutex
	last *PassSummary
}

func NewReconcileService(store AccountStore, api ReconcileAPI, cfg ReconcileConfig) *ReconcileService {
	s := &ReconcileService{
		store:       store,
		api:         api,
		resetPeriod: cfg.ResetPeriod,
		workers:     cfg.Workers,
		now:         cfg.Now,
	}
	if s.workers < 1 {
		s.workers = defaultWorkers
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// IsRunning reports whether a pass is in progress.
func (s *ReconcileService) IsRunning() bool {
	return s.running.Load()
}

// LastSummary returns the summary of the most recent completed pass, or nil.
func (s *ReconcileService) LastSummary() *PassSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	summary := *s.last
	return &summary
}

// RunPass reconciles every stored account once. Per-account failures are
// recorded in the summary and never abort the pass; only a failure to list
// accounts or an overlapping pass is returned as an error.
func (s *ReconcileService) RunPass(ctx context.Context) (PassSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return PassSummary{}, ErrPassInProgress
	}
	defer s.running.Store(false)
	return s.runPass(ctx)
}

// StartPass claims the pass slot and runs the pass in the background. It
// returns ErrPassInProgress at once when the slot is taken. Wait blocks until
// the started pass has finished.
func (s *ReconcileService) StartPass(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrPassInProgress
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.running.Store(false)
		defer common.Recover("reconcile pass")
		if _, err := s.runPass(ctx); err != nil {
			logger.Warning("reconcile pass failed:", err)
		}
	}()
	return nil
}

// Wait blocks until every pass started with StartPass has returned.
func (s *ReconcileService) Wait() {
	s.background.Wait()
}

func (s *ReconcileService) runPass(ctx context.Context) (PassSummary, error) {
	now := s.now().UTC().Truncate(time.Second)
	started := time.Now()

	accounts, err := s.store.GetAccounts()
	if err != nil {
		return PassSummary{}, err
	}

	results := make([]AccountResult, len(accounts))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, account := range accounts {
		g.Go(func() error {
			results[i] = s.reconcileAccount(ctx, account, now)
			return nil
		})
	}
	_ = g.Wait()

	summary := PassSummary{StartedAt: now}
	for _, r := range results {
		summary.add(r)
	}
	summary.Duration = time.Since(started)
	summary.log()

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()
	return summary, nil
}

func (s *ReconcileService) reconcileAccount(ctx context.Context, account *model.Account, now time.Time) AccountResult {
	result := AccountResult{InboundTag: account.InboundTag, Email: account.Email}
	if ctx.Err() != nil {
		result.Outcome = OutcomeSkipped
		return result
	}

	prev := stateOf(account)
	resetDue := IsResetDue(prev.ResetTrafficAt, now, s.resetPeriod)

	sample := s.api.GetUserTraffic(ctx, account.Email, resetDue)
	if ctx.Err() != nil {
		result.Outcome = OutcomeSkipped
		return result
	}
	sampleFailed := sample.Failed()
	if sampleFailed {
		logger.Warningf("reconcile: traffic of %s unreadable: %v", account.Email, sample.Err())
	}

	d := Evaluate(prev, sample, resetDue, now)

	switch d.Action {
	case ActionRemove:
		err := s.api.RemoveUser(ctx, account.InboundTag, account.Email)
		switch {
		case err == nil:
			result.Outcome = OutcomeDeactivated
			result.Blocked = d.Next.Blocked
			logger.Infof("reconcile: removed %s from %s, traffic %s of %s, blocked %v", account.Email, account.InboundTag,
				common.FormatTraffic(d.Next.Traffic), common.FormatQuota(d.Next.Quota), d.Next.Blocked)
		case ctx.Err() != nil:
			result.Outcome = OutcomeSkipped
			return result
		default:
			// the stored state stays inactive even though xray may still serve the user
			result.Outcome = OutcomeDeactivationFailed
			result.Err = err
			logger.Errorf("reconcile: remove %s from %s: %v", account.Email, account.InboundTag, err)
		}
	case ActionAdd:
		err := s.api.AddUser(ctx, account.ToXrayUser())
		switch {
		case err == nil:
			result.Outcome = OutcomeActivated
			logger.Infof("reconcile: added %s to %s", account.Email, account.InboundTag)
		case ctx.Err() != nil:
			result.Outcome = OutcomeSkipped
			return result
		default:
			result.Outcome = OutcomeActivationFailed
			result.Err = err
			logger.Errorf("reconcile: add %s to %s: %v", account.Email, account.InboundTag, err)
		}
	default:
		if sampleFailed {
			result.Outcome = OutcomeSampleFailed
			result.Err = sample.Err()
		}
	}

	found, err := s.store.UpdateAccount(account.InboundTag, account.Email, d.Next.engineUpdate())
	if err == nil && !found {
		err = ErrAccountNotFound
	}
	if err != nil {
		result.StoreFailed = true
		logger.Warningf("reconcile: consistency drift, state of %s on %s not persisted: %v",
			account.Email, account.InboundTag, err)
	}
	return result
}
