package service

import (
	"context"
	"errors"
	"time"

	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

func (s *Service) acquireSlot(ctx context.Context) error {
	start := time.Now()
	if s.tryAcquireSlot() {
		s.admitted(ctx, start)
		return nil
	}
	if s.admissionWait <= 0 {
		return s.reject(ctx, "queue_full", appErr.New(appErr.SandboxQueueFull))
	}

	timer := time.NewTimer(s.admissionWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		s.admitted(ctx, start)
		return nil
	case <-ctx.Done():
		code := appErr.ServiceUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = appErr.Timeout
		}
		return s.reject(ctx, "canceled", appErr.Wrapf(ctx.Err(), code, "canceled while waiting for an execution slot"))
	case <-timer.C:
		return s.reject(ctx, "queue_full", appErr.New(appErr.SandboxQueueFull))
	}
}

func (s *Service) tryAcquireSlot() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
		s.metrics.SetInFlight(int(s.inFlight.Add(-1)))
	default:
	}
}

func (s *Service) admitted(ctx context.Context, start time.Time) {
	s.metrics.ObserveAdmissionWait(ctx, time.Since(start))
	s.metrics.SetInFlight(int(s.inFlight.Add(1)))
}

func (s *Service) reject(ctx context.Context, reason string, err error) error {
	s.metrics.ObserveRejection(ctx, reason)
	logger.Warn(ctx, "submission not admitted", zap.String("reason", reason), zap.Duration("waited", s.admissionWait))
	return err
}
