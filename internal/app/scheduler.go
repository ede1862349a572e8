package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/bjo163/sokomarket/pkg/metrics"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	perrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	TaskApplyDowngrades     = "apply_downgrades"
	TaskExpireSubscriptions = "expire_subscriptions"
	TaskRenewalReminders    = "renewal_reminders"
	TaskReconcilePayments   = "reconcile_payments"
	TaskLowStockAlerts      = "low_stock_alerts"

	taskTimeout = 5 * time.Minute
)

// TaskOptions is the decoded SysScheduler.Config.
type TaskOptions struct {
	Days           int   `mapstructure:"days"`
	OrganizationID int64 `mapstructure:"organization_id"`
}

// ParseTaskOptions decodes the scheduler's JSON config. Numbers given as strings are accepted.
func ParseTaskOptions(raw string) (TaskOptions, error) {
	var opts TaskOptions
	if raw == "" {
		return opts, nil
	}
	var m map[string]interface{}
	if err := jsoniter.UnmarshalFromString(raw, &m); err != nil {
		return opts, perrors.Wrap(err, "scheduler config")
	}
	if err := mapstructure.WeakDecode(m, &opts); err != nil {
		return opts, perrors.Wrap(err, "scheduler config")
	}
	return opts, nil
}

// StartSchedulerService runs enabled schedulers periodically
func (a *Application) StartSchedulerService(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runSchedulers(ctx)
			}
		}
	}()
}

// runSchedulers executes enabled schedulers that are due
func (a *Application) runSchedulers(ctx context.Context) {
	var schedulers []domain.SysScheduler
	if err := a.gormDB.Where("status = ?", common.ENABLED).Find(&schedulers).Error; err != nil {
		zap.L().Error("load schedulers", zap.Error(err))
		return
	}
	now := time.Now()
	for i := range schedulers {
		sched := &schedulers[i]
		if sched.NextRunAt.IsZero() || !now.Before(sched.NextRunAt) {
			a.runScheduler(ctx, sched)
		}
	}
}

// RunSchedulerNow triggers a scheduler execution immediately by ID
func (a *Application) RunSchedulerNow(id int64) error {
	var sched domain.SysScheduler
	if err := a.gormDB.First(&sched, id).Error; err != nil {
		return err
	}
	return a.runScheduler(context.Background(), &sched)
}

// runScheduler executes one task and records its outcome and next run.
func (a *Application) runScheduler(ctx context.Context, sched *domain.SysScheduler) error {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	msg, err := a.runTask(ctx, sched)
	result := "success"
	if err != nil {
		result = "failed"
		msg = err.Error()
		zap.L().Error("scheduler task failed",
			zap.Int64("scheduler_id", sched.ID),
			zap.String("task_type", sched.TaskType),
			zap.Error(err))
	} else {
		zap.L().Info("scheduler task done",
			zap.String("task_type", sched.TaskType),
			zap.String("message", msg),
			zap.Duration("took", time.Since(start)))
	}
	metrics.Incr("scheduler_"+sched.TaskType+"_"+result, 1)

	interval := sched.Interval
	if interval <= 0 {
		interval = 3600
	}
	now := time.Now()
	if uerr := a.gormDB.Model(&domain.SysScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at":  now,
		"next_run_at":  now.Add(time.Duration(interval) * time.Second),
		"last_result":  result,
		"last_message": msg,
	}).Error; uerr != nil {
		zap.L().Error("update scheduler", zap.Int64("scheduler_id", sched.ID), zap.Error(uerr))
	}
	return err
}

func (a *Application) runTask(ctx context.Context, sched *domain.SysScheduler) (string, error) {
	opts, err := ParseTaskOptions(sched.Config)
	if err != nil {
		return "", err
	}
	s := a.services
	switch sched.TaskType {
	case TaskApplyDowngrades:
		n, err := s.Subscriptions.ApplyScheduledDowngrades(ctx)
		return fmt.Sprintf("%d subscriptions downgraded", n), err
	case TaskExpireSubscriptions:
		n, err := s.Subscriptions.ExpireLapsed(ctx)
		return fmt.Sprintf("%d subscriptions expired", n), err
	case TaskRenewalReminders:
		days := opts.Days
		if days <= 0 {
			days = a.appConfig.Billing.ReminderDays
		}
		n, err := s.Subscriptions.SendRenewalReminders(ctx, days)
		return fmt.Sprintf("%d reminders sent", n), err
	case TaskReconcilePayments:
		res, err := s.Payments.ReconcilePending(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d checked, %d settled, %d errors", res.Checked, res.Settled, res.Failed), nil
	case TaskLowStockAlerts:
		return a.lowStockAlerts(ctx, opts.OrganizationID)
	default:
		return "", fmt.Errorf("unsupported task type %q", sched.TaskType)
	}
}

// lowStockAlerts publishes one alert per tracked product at or below its threshold.
func (a *Application) lowStockAlerts(ctx context.Context, organizationID int64) (string, error) {
	products, err := a.services.Ledger.LowStock(ctx, organizationID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	for _, p := range products {
		a.bus.Publish(events.TopicLowStock, events.LowStock{
			ProductID:      p.ID,
			OrganizationID: p.OrganizationID,
			Name:           p.Name,
			CurrentStock:   p.Stock(),
			Threshold:      p.LowStockThreshold,
			OccurredAt:     now,
		})
	}
	return fmt.Sprintf("%d low-stock products", len(products)), nil
}
