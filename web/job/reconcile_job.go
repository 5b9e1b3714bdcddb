// Package job holds the scheduled tasks of the daemon.
package job

import (
	"context"
	"errors"

	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/util/common"
	"github.com/mhsanaei/xray-daemon/web/service"
)

// ReconcileJob runs one reconciliation pass per tick.
type ReconcileJob struct {
	ctx              context.Context
	reconcileService *service.ReconcileService
}

func NewReconcileJob(ctx context.Context, reconcileService *service.ReconcileService) *ReconcileJob {
	return &ReconcileJob{ctx: ctx, reconcileService: reconcileService}
}

func (j *ReconcileJob) Run() {
	defer common.Recover("reconcile job")

	if _, err := j.reconcileService.RunPass(j.ctx); err != nil {
		if errors.Is(err, service.ErrPassInProgress) {
			logger.Debug("reconcile pass still running, tick skipped")
			return
		}
		logger.Warning("reconcile pass failed:", err)
	}
}
