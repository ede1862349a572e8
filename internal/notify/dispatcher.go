package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"go.uber.org/zap"
)

// Start begins the delivery dispatcher with periodic sends
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.ticker = time.NewTicker(interval)
	go s.dispatchLoop(ctx)

	zap.L().Info("notification dispatcher started",
		zap.Duration("interval", interval),
		zap.Int("senders", len(s.senders)),
	)
}

// Stop halts the dispatcher and closes every sender
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		for channel, sender := range s.senders {
			if err := sender.Close(); err != nil {
				zap.L().Warn("error closing sender",
					zap.String("channel", channel),
					zap.Error(err),
				)
			}
		}
		close(s.stopChan)
		zap.L().Info("notification dispatcher stopped")
	})
}

func (s *Service) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-s.ticker.C:
			s.Dispatch(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch sends pending deliveries, then retries failed ones that have attempts
// left. It returns how many were sent.
func (s *Service) Dispatch(ctx context.Context) int {
	pending, err := s.deliveries.GetPending(ctx, dispatchBatchSize)
	if err != nil {
		zap.L().Error("failed to get pending deliveries", zap.Error(err))
		return 0
	}
	failed, err := s.deliveries.GetFailed(ctx, dispatchBatchSize/2)
	if err != nil {
		zap.L().Error("failed to get failed deliveries", zap.Error(err))
	}
	batch := append(pending, failed...)
	if len(batch) == 0 {
		return 0
	}
	zap.L().Debug("dispatching deliveries",
		zap.Int("pending", len(pending)),
		zap.Int("retry", len(failed)))

	var (
		sent int32
		wg   sync.WaitGroup
	)
	for _, d := range batch {
		delivery := d
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if s.send(ctx, delivery) {
				atomic.AddInt32(&sent, 1)
			}
		}
		if s.pool == nil {
			task()
			continue
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			zap.L().Warn("delivery submit failed", zap.Int64("delivery_id", delivery.ID), zap.Error(err))
		}
	}
	wg.Wait()
	return int(sent)
}

// send delivers one row and records the outcome.
func (s *Service) send(ctx context.Context, d *domain.NotificationDelivery) bool {
	sender, ok := s.senders[d.Channel]
	if !ok {
		s.updateDeliveryError(ctx, d, fmt.Sprintf("no sender for channel %s", d.Channel))
		s.incrementRetry(ctx, d)
		return false
	}
	if err := sender.Send(ctx, d); err != nil {
		s.updateDeliveryError(ctx, d, err.Error())
		s.incrementRetry(ctx, d)
		zap.L().Warn("delivery failed",
			zap.Int64("delivery_id", d.ID),
			zap.Int64("organization_id", d.OrganizationID),
			zap.Int("retry_count", d.RetryCount+1),
			zap.Error(err))
		return false
	}
	if err := s.deliveries.MarkSent(ctx, d.ID, s.now()); err != nil {
		zap.L().Error("failed to mark delivery sent",
			zap.Int64("delivery_id", d.ID),
			zap.Error(err))
		return false
	}
	zap.L().Info("delivery sent",
		zap.Int64("delivery_id", d.ID),
		zap.String("channel", d.Channel),
		zap.String("recipient", d.Recipient))
	return true
}

func (s *Service) updateDeliveryError(ctx context.Context, d *domain.NotificationDelivery, errMsg string) {
	if err := s.deliveries.UpdateStatus(ctx, d.ID, domain.DeliveryFailed, errMsg); err != nil {
		zap.L().Error("failed to update delivery status", zap.Int64("delivery_id", d.ID), zap.Error(err))
	}
}

func (s *Service) incrementRetry(ctx context.Context, d *domain.NotificationDelivery) {
	if err := s.deliveries.IncrementRetry(ctx, d.ID); err != nil {
		zap.L().Error("failed to increment retry", zap.Int64("delivery_id", d.ID), zap.Error(err))
	}
}
