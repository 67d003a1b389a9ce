package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"live-session/internal/service"
)

// AdmissionSweeper 处理过期的加入申请
type AdmissionSweeper interface {
	SweepExpired(ctx context.Context) (service.SweepStats, error)
}

// InactivitySweeper 结束空闲会话
type InactivitySweeper interface {
	EndInactive(ctx context.Context) (int, error)
}

// CredentialSweeper 把凭证早已过期的在线参与者置为离线
type CredentialSweeper interface {
	ExpireStaleCredentials(ctx context.Context) (int, error)
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	queue, _ := asynq.GetQueueName(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"queue":     queue,
	})
}

// AdmissionSweepHandler 处理 admission:sweep 任务
type AdmissionSweepHandler struct {
	sweeper AdmissionSweeper
}

// NewAdmissionSweepHandler 创建 Handler 实例
func NewAdmissionSweepHandler(sweeper AdmissionSweeper) *AdmissionSweepHandler {
	if sweeper == nil {
		panic("AdmissionSweeper cannot be nil for AdmissionSweepHandler")
	}
	return &AdmissionSweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *AdmissionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	stats, err := h.sweeper.SweepExpired(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Admission sweep failed")
		return err
	}
	if stats.Expired > 0 || stats.Warned > 0 {
		logCtx.WithFields(logrus.Fields{"expired": stats.Expired, "warned": stats.Warned}).Info("Admission sweep processed requests")
	} else {
		logCtx.Debug("Admission sweep found nothing to do")
	}
	return nil
}

// InactivitySweepHandler 处理 session:inactivity_sweep 任务。
// 两个清理相互独立，一个失败不影响另一个执行。
type InactivitySweepHandler struct {
	sessions    InactivitySweeper
	credentials CredentialSweeper
}

// NewInactivitySweepHandler 创建 Handler 实例
func NewInactivitySweepHandler(sessions InactivitySweeper, credentials CredentialSweeper) *InactivitySweepHandler {
	if sessions == nil || credentials == nil {
		panic("sweepers cannot be nil for InactivitySweepHandler")
	}
	return &InactivitySweepHandler{sessions: sessions, credentials: credentials}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *InactivitySweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	ended, endErr := h.sessions.EndInactive(ctx)
	if endErr != nil {
		logCtx.WithError(endErr).Error("Inactivity sweep failed")
	}
	expired, credErr := h.credentials.ExpireStaleCredentials(ctx)
	if credErr != nil {
		logCtx.WithError(credErr).Error("Credential expiry sweep failed")
	}

	if ended > 0 || expired > 0 {
		logCtx.WithFields(logrus.Fields{"sessions_ended": ended, "participants_expired": expired}).Info("Inactivity sweep processed")
	}
	return errors.Join(endErr, credErr)
}
