// Package service runs one submission through the sandbox pipeline:
// validate, admit, acquire a workspace, stage, run, collect, release.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/environment"
	"coderunner/internal/sandbox/observer"
	"coderunner/internal/sandbox/policy"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/security"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSupervisoryOverhead = 2 * time.Second

// WorkspaceManager hands out one private directory per request.
type WorkspaceManager interface {
	Acquire(ctx context.Context, requestID string) (*workspace.Workspace, error)
	Release(ctx context.Context, ws *workspace.Workspace) error
	Ready() error
}

// Stager turns a snippet into a launch description.
type Stager interface {
	Stage(ctx context.Context, ws *workspace.Workspace, code string, catalog *policy.Catalog) (spec.ExecutionSpec, error)
	Level() security.IsolationLevel
	Ready() error
}

// SubmissionRequest is one caller submission.
type SubmissionRequest struct {
	Code string
	// Language selects the runtime; empty means python.
	Language string
	// Overrides is reserved; a non-empty map is rejected.
	Overrides map[string]string
	RequestID string
}

// Config holds service dependencies and settings.
type Config struct {
	Catalog    *policy.Catalog
	Workspaces WorkspaceManager
	Builder    Stager
	Engine     engine.Engine
	Metrics    observer.MetricsRecorder
	// MaxConcurrent bounds runs in flight host-wide.
	MaxConcurrent int
	// AdmissionWait is how long a submission may queue for a slot. Zero
	// rejects immediately when every slot is busy.
	AdmissionWait time.Duration
	// SupervisoryOverhead is added to the wall clock limit to form the
	// per-request deadline.
	SupervisoryOverhead time.Duration
}

// Service executes submissions.
type Service struct {
	catalog       *policy.Catalog
	workspaces    WorkspaceManager
	builder       Stager
	engine        engine.Engine
	metrics       observer.MetricsRecorder
	admissionWait time.Duration
	overhead      time.Duration
	sem           chan struct{}
	inFlight      atomic.Int64
}

// NewService creates a new submit service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("policy catalog is required")
	}
	if cfg.Workspaces == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("environment builder is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("sandbox engine is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.AdmissionWait < 0 {
		cfg.AdmissionWait = 0
	}
	if cfg.SupervisoryOverhead <= 0 {
		cfg.SupervisoryOverhead = defaultSupervisoryOverhead
	}
	return &Service{
		catalog:       cfg.Catalog,
		workspaces:    cfg.Workspaces,
		builder:       cfg.Builder,
		engine:        cfg.Engine,
		metrics:       cfg.Metrics,
		admissionWait: cfg.AdmissionWait,
		overhead:      cfg.SupervisoryOverhead,
		sem:           make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Catalog returns the policy the service runs under.
func (s *Service) Catalog() *policy.Catalog { return s.catalog }

// Deadline is the longest a single Submit may block once admitted.
func (s *Service) Deadline() time.Duration {
	return time.Duration(s.catalog.Limits().MaxWallClockMillis)*time.Millisecond + s.overhead
}

// Submit runs code and returns its result. An error is returned only when
// the submission is rejected before anything is allocated: invalid input or
// no free execution slot. Every failure after admission is reported as an
// infrastructure_error result.
func (s *Service) Submit(ctx context.Context, req SubmissionRequest) (result.SubmissionResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = context.WithValue(ctx, contextkey.RequestID, req.RequestID)

	catalog, err := s.validate(req)
	if err != nil {
		s.metrics.ObserveRejection(ctx, "invalid_input")
		logger.Info(ctx, "submission rejected",
			zap.Int("code_bytes", len(req.Code)), zap.String("language", req.Language), zap.Error(err))
		return result.SubmissionResult{}, err
	}
	if err := s.acquireSlot(ctx); err != nil {
		return result.SubmissionResult{}, err
	}
	defer s.releaseSlot()

	res := s.execute(ctx, req, catalog)
	res.RequestID = req.RequestID
	if res.Isolation == "" {
		res.Isolation = string(s.builder.Level())
	}

	s.metrics.ObserveSubmission(ctx, string(res.Status), res.Isolation,
		time.Duration(res.ExecutionTimeMillis)*time.Millisecond, res.Truncated)
	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("elapsed_ms", res.ExecutionTimeMillis),
		zap.Bool("truncated", res.Truncated),
		zap.String("isolation", res.Isolation),
		zap.String("language", catalog.Language()),
	}
	if res.Status == result.StatusInfrastructureError {
		logger.Error(ctx, "submission finished", fields...)
	} else {
		logger.Info(ctx, "submission finished", fields...)
	}
	return res, nil
}

func (s *Service) validate(req SubmissionRequest) (*policy.Catalog, error) {
	if len(req.Overrides) > 0 {
		return nil, appErr.New(appErr.OverridesDenied)
	}
	catalog, err := s.catalog.ForLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	if err := environment.ValidateCode(req.Code, catalog.Limits().MaxCodeBytes); err != nil {
		return nil, err
	}
	return catalog, nil
}

// execute owns the workspace for the lifetime of one run.
func (s *Service) execute(ctx context.Context, req SubmissionRequest, catalog *policy.Catalog) (res result.SubmissionResult) {
	start := time.Now()
	var ws *workspace.Workspace
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "submission panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = result.InfrastructureError("internal error", s.bounded(time.Since(start)))
		}
		if ws != nil {
			err := s.workspaces.Release(context.WithoutCancel(ctx), ws)
			s.metrics.ObserveWorkspaceRelease(ctx, err == nil)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.Deadline())
	defer cancel()

	var err error
	ws, err = s.workspaces.Acquire(runCtx, req.RequestID)
	if err != nil {
		if callerGone(ctx) {
			return s.canceled(start)
		}
		logger.Error(ctx, "acquire workspace failed", zap.Error(err))
		return result.InfrastructureError(failureReason(err), s.bounded(time.Since(start)))
	}

	execSpec, err := s.builder.Stage(runCtx, ws, req.Code, catalog)
	if err != nil {
		if callerGone(ctx) {
			return s.canceled(start)
		}
		logger.Error(ctx, "stage submission failed", zap.String("workspace", ws.ID), zap.Error(err))
		return result.InfrastructureError(failureReason(err), s.bounded(time.Since(start)))
	}
	execSpec.RequestID = req.RequestID

	outcome, err := s.engine.Run(runCtx, execSpec)
	if err != nil {
		logger.Error(ctx, "sandbox run rejected spec", zap.String("workspace", ws.ID), zap.Error(err))
		return result.InfrastructureError(failureReason(err), s.bounded(time.Since(start)))
	}
	outcome.WallClock = s.bounded(outcome.WallClock)
	return result.Finalize(outcome)
}

// callerGone reports whether the caller canceled, as opposed to the run
// hitting its own deadline.
func callerGone(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (s *Service) canceled(start time.Time) result.SubmissionResult {
	return result.Finalize(result.ExecutionOutcome{
		Status:    result.Canceled(),
		WallClock: s.bounded(time.Since(start)),
	})
}

// bounded clamps an elapsed time to the submission deadline.
func (s *Service) bounded(d time.Duration) time.Duration {
	if limit := s.Deadline(); d > limit {
		return limit
	}
	return d
}

func failureReason(err error) string {
	code := appErr.GetCode(err)
	if code == appErr.InternalServerError {
		return "internal error"
	}
	return code.Message()
}

// IsReady reports whether a submission accepted now could run.
func (s *Service) IsReady() bool {
	return s.Health() == nil
}

// Health returns the first failing readiness check.
func (s *Service) Health() error {
	if s.catalog == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("policy catalog not loaded")
	}
	if err := s.workspaces.Ready(); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "workspace root: %v", err)
	}
	if err := s.builder.Ready(); err != nil {
		return err
	}
	if err := s.engine.Ready(); err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "sandbox engine: %v", err)
	}
	return nil
}

// InFlight returns the number of admitted submissions.
func (s *Service) InFlight() int {
	return int(s.inFlight.Load())
}
