package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

// Stages holds the stage implementations of a run. A nil stage is recorded
// as skipped, which lets a caller run only a prefix of the pipeline.
type Stages struct {
	Retrieval      Stage
	Categorization Stage
	Analysis       Stage
	Insight        Stage
	Distribution   Stage
	Savings        Stage
}

func (s Stages) byName(name StageName) Stage {
	switch name {
	case StageRetrieval:
		return s.Retrieval
	case StageCategorization:
		return s.Categorization
	case StageAnalysis:
		return s.Analysis
	case StageInsight:
		return s.Insight
	case StageDistribution:
		return s.Distribution
	case StageSavings:
		return s.Savings
	}
	return nil
}

// Coordinator runs the stages in order and always converges to Completed or
// Failed.
type Coordinator struct {
	stages   Stages
	recorder RunRecorder
	notifier Notifier
	now      func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithRecorder records run start and finish.
func WithRecorder(r RunRecorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithNotifier alerts an operator about runs that need follow-up.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a Coordinator for the given stages.
func NewCoordinator(stages Stages, opts ...Option) *Coordinator {
	c := &Coordinator{stages: stages, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one run and returns its report.
func (c *Coordinator) Run(ctx context.Context, rc RunContext) *RunReport {
	log := logger.FromContext(ctx).With().
		Str("run_id", rc.RunID).
		Str("week_start", rc.WeekStart.Format(dateLayout)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	report := newRunReport(rc, c.now())
	state := &State{}
	c.startRun(ctx, rc)
	log.Info().Msg("Run started")

	done := make(map[StageName]StageStatus, len(stageOrder))
	for i, name := range stageOrder {
		if report.State == StateFailed {
			report.Stages = append(report.Stages, skippedStatus(name, "run failed"))
			continue
		}
		if reason := c.interrupted(ctx, rc); reason != "" {
			c.stopEarly(ctx, report, done, stageOrder[i:], reason)
			break
		}

		policy := PolicyFor(name)
		stage := c.stages.byName(name)
		skipReason := ""
		switch {
		case stage == nil:
			skipReason = "stage not configured"
		case policy.Requires != "" && !done[policy.Requires].Satisfied():
			skipReason = fmt.Sprintf("requires %s", policy.Requires)
		}
		if skipReason != "" {
			status := skippedStatus(name, skipReason)
			done[name] = status
			report.Stages = append(report.Stages, status)
			log.Warn().Str("stage", string(name)).Str("reason", skipReason).Msg("Stage skipped")
			if policy.OnFailure == ActionAbort {
				report.Error = &StageError{Kind: apperror.KindCritical, Message: fmt.Sprintf("%s skipped: %s", name, skipReason)}
				c.transition(ctx, report, StateFailed)
			}
			continue
		}

		c.transition(ctx, report, stageStates[name])

		started := c.now()
		status := c.safely(name, func() StageStatus { return stage.Execute(ctx, rc, state) })
		if !status.Success {
			status = c.applyPolicy(ctx, report, stage, policy, rc, state, status)
		}
		status.Stage = name
		status.Tier = policy.Tier
		status.StartedAt = started
		status.DurationMS = c.now().Sub(started).Milliseconds()

		done[name] = status
		report.Stages = append(report.Stages, status)
		logStage(log, status)
	}

	if report.State != StateFailed {
		c.transition(ctx, report, StateCompleted)
	}
	report.collect(state, c.now())

	c.finishRun(ctx, report)
	c.notify(ctx, report)
	log.Info().
		Str("state", string(report.State)).
		Bool("requires_follow_up", report.RequiresFollowUp).
		Msg("Run finished")
	return report
}

func (c *Coordinator) applyPolicy(ctx context.Context, report *RunReport, stage Stage, policy Policy, rc RunContext, state *State, status StageStatus) StageStatus {
	name := stage.Name()
	if status.Error == nil {
		status.Error = &StageError{Kind: apperror.KindCritical, Message: fmt.Sprintf("%s failed", name)}
	}

	switch policy.OnFailure {
	case ActionAbort:
		report.Error = status.Error
		c.transition(ctx, report, StateFailed)
		return status

	case ActionFallback, ActionWarn:
		report.warn(fmt.Sprintf("%s failed: %s", name, status.Error.Message))
		if fb, ok := stage.(Fallbacker); ok {
			failed := status
			status = c.safely(name, func() StageStatus { return fb.Fallback(ctx, rc, state, failed) })
			if status.Error == nil {
				status.Error = failed.Error
			}
		}
		if policy.OnFailure == ActionFallback {
			report.RequiresFollowUp = true
		}

	case ActionSurface:
		report.warn(fmt.Sprintf("%s failed: %s", name, status.Error.Message))
		report.RequiresFollowUp = true
	}
	return status
}

// safely runs fn, turning a panic into a critical failure.
func (c *Coordinator) safely(name StageName, fn func() StageStatus) (status StageStatus) {
	defer func() {
		if r := recover(); r != nil {
			status = failedWith(name, apperror.Critical(string(name), fmt.Sprintf("stage panicked: %v", r), nil))
		}
	}()
	return fn()
}

// interrupted returns a reason when no further stage may start.
func (c *Coordinator) interrupted(ctx context.Context, rc RunContext) string {
	if err := ctx.Err(); err != nil {
		return "run cancelled: " + err.Error()
	}
	if !rc.Deadline.IsZero() && !c.now().Before(rc.Deadline) {
		return "run deadline passed"
	}
	return ""
}

// stopEarly ends a run whose deadline passed. Without a finished analysis
// the run has produced nothing useful and fails.
func (c *Coordinator) stopEarly(ctx context.Context, report *RunReport, done map[StageName]StageStatus, remaining []StageName, reason string) {
	for _, name := range remaining {
		report.Stages = append(report.Stages, skippedStatus(name, reason))
	}

	tier1Done := true
	for _, name := range stageOrder {
		if PolicyFor(name).Tier == Tier1 && !done[name].Satisfied() {
			tier1Done = false
		}
	}
	if !tier1Done {
		report.Error = &StageError{Kind: apperror.KindCritical, Message: reason + " before " + string(remaining[0])}
		c.transition(ctx, report, StateFailed)
		return
	}
	report.warn(reason + ", skipped " + fmt.Sprint(len(remaining)) + " remaining stage(s)")
}

func (c *Coordinator) transition(ctx context.Context, report *RunReport, to RunState) {
	from := report.State
	if !canTransition(from, to) {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Invalid run state transition")
		return
	}
	report.State = to
	ctxLog := logger.FromContext(ctx)
	ctxLog.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Run state changed")
}

func (c *Coordinator) startRun(ctx context.Context, rc RunContext) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.StartRun(ctx, rc.RunID, rc.WeekStart); err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Warn().Err(err).Msg("Failed to record run start")
	}
}

func (c *Coordinator) finishRun(ctx context.Context, report *RunReport) {
	if c.recorder == nil {
		return
	}
	log := logger.FromContext(ctx)
	data, err := report.JSON()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode run report")
	}
	if err := c.recorder.FinishRun(ctx, report.RunID, string(report.State), data, report.ErrorMessage()); err != nil {
		log.Warn().Err(err).Msg("Failed to record run finish")
	}
}

func (c *Coordinator) notify(ctx context.Context, report *RunReport) {
	if c.notifier == nil || !(report.RequiresFollowUp || report.Failed()) {
		return
	}
	if err := c.notifier.Notify(ctx, report); err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Warn().Err(err).Msg("Failed to notify operator")
	}
}

func skippedStatus(name StageName, reason string) StageStatus {
	return StageStatus{
		Stage:    name,
		Tier:     PolicyFor(name).Tier,
		Skipped:  true,
		Warnings: []string{reason},
	}
}

func logStage(log zerolog.Logger, s StageStatus) {
	evt := log.Info()
	if !s.Success {
		evt = log.Warn()
		if s.Error != nil {
			evt = evt.Str("error_kind", string(s.Error.Kind)).Str("error", s.Error.Message)
		}
	}
	evt.Str("stage", string(s.Stage)).
		Int("tier", int(s.Tier)).
		Bool("success", s.Success).
		Str("level", s.Level()).
		Int64("duration_ms", s.DurationMS).
		Strs("warnings", s.Warnings).
		Msg("Stage finished")
}
