package ecrr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/store"
	"github.com/legion/legion/pkg/tracing"
)

// Stage names used for spans and metrics
const (
	StageEmulate   = "emulate"
	StageCondense  = "condense"
	StageRepurpose = "repurpose"
	StageRedeploy  = "redeploy"
)

// Request is one pipeline execution
type Request struct {
	Target     string
	TargetType models.TargetType
	Depth      models.Depth
	Legion     *models.LegionContext
	Deployment *models.DeploymentConfig
}

// Pipeline runs the four ECRR stages in order. Intermediate artifacts and
// runs are kept per instance.
type Pipeline struct {
	emulator   Emulator
	condenser  Condenser
	repurposer Repurposer
	redeployer Redeployer

	store    store.Store
	activity *activity.Log
	emitter  *events.Emitter
	metrics  metrics.Collector
	tracer   trace.Tracer
	logger   logging.Logger
	now      func() time.Time

	historyLimit  int
	mu            sync.RWMutex
	emulations    *history[*models.EmulationResult]
	condensations *history[*models.CondensationResult]
	repurposes    *history[*models.RepurposeResult]
	deployments   *history[*models.DeploymentResult]
	runs          *history[models.PipelineRun]
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithEmulator replaces the table emulator
func WithEmulator(e Emulator) Option {
	return func(p *Pipeline) { p.emulator = e }
}

// WithCondenser replaces the default condenser
func WithCondenser(c Condenser) Option {
	return func(p *Pipeline) { p.condenser = c }
}

// WithRepurposer replaces the default repurposer
func WithRepurposer(r Repurposer) Option {
	return func(p *Pipeline) { p.repurposer = r }
}

// WithRedeployer replaces the spawner-backed redeployer
func WithRedeployer(r Redeployer) Option {
	return func(p *Pipeline) { p.redeployer = r }
}

// WithHistoryLimit caps how many stage artifacts of each kind, and runs when
// no store is set, the pipeline keeps in memory. Non-positive means the default.
func WithHistoryLimit(n int) Option {
	return func(p *Pipeline) { p.historyLimit = n }
}

// WithStore persists pipeline runs. Runs are then read from the store and
// not kept in memory.
func WithStore(s store.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithActivity records completed runs in the activity log
func WithActivity(l *activity.Log) Option {
	return func(p *Pipeline) { p.activity = l }
}

// WithEmitter publishes pipeline outcome events
func WithEmitter(e *events.Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithTracer sets the tracer used for run and stage spans
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithLogger sets the structured logger
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline whose default Redeploy stage spawns agents
// through sp
func NewPipeline(sp AgentSpawner, opts ...Option) *Pipeline {
	p := &Pipeline{
		metrics:       metrics.Discard{},
		tracer:        tracing.NoopTracer(),
		logger:        logging.NewNopLogger(),
		now:           func() time.Time { return time.Now().UTC() },
		historyLimit:  DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.emulations = newHistory[*models.EmulationResult](p.historyLimit)
	p.condensations = newHistory[*models.CondensationResult](p.historyLimit)
	p.repurposes = newHistory[*models.RepurposeResult](p.historyLimit)
	p.deployments = newHistory[*models.DeploymentResult](p.historyLimit)
	p.runs = newHistory[models.PipelineRun](p.historyLimit)
	p.logger = p.logger.With(logging.String("component", "ecrr"))

	clockOpt := WithStageClock(p.now)
	if p.emulator == nil {
		p.emulator = NewEmulator(clockOpt)
	}
	if p.condenser == nil {
		p.condenser = NewCondenser(clockOpt)
	}
	if p.repurposer == nil {
		p.repurposer = NewRepurposer(clockOpt)
	}
	if p.redeployer == nil {
		p.redeployer = NewRedeployer(sp, p.logger, clockOpt)
	}
	return p
}

// Emulate runs the Emulate stage on its own
func (p *Pipeline) Emulate(ctx context.Context, target Target) (*models.EmulationResult, error) {
	res, err := p.emulator.Emulate(ctx, target)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.emulations.put(res.ID, res)
	p.mu.Unlock()
	return res, nil
}

// Condense runs the Condense stage on its own
func (p *Pipeline) Condense(ctx context.Context, emulation *models.EmulationResult) (*models.CondensationResult, error) {
	res, err := p.condenser.Condense(ctx, emulation)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.condensations.put(res.ID, res)
	p.mu.Unlock()
	return res, nil
}

// Repurpose runs the Repurpose stage on its own
func (p *Pipeline) Repurpose(ctx context.Context, condensation *models.CondensationResult, legion models.LegionContext) (*models.RepurposeResult, error) {
	res, err := p.repurposer.Repurpose(ctx, condensation, legion)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.repurposes.put(res.ID, res)
	p.mu.Unlock()
	return res, nil
}

// Redeploy runs the Redeploy stage on its own
func (p *Pipeline) Redeploy(ctx context.Context, repurpose *models.RepurposeResult, cfg models.DeploymentConfig) (*models.DeploymentResult, error) {
	res, err := p.redeployer.Redeploy(ctx, repurpose, cfg)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.deployments.put(res.ID, res)
	p.mu.Unlock()
	return res, nil
}

// Emulation returns a cached emulation result
func (p *Pipeline) Emulation(id string) (*models.EmulationResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.emulations.get(id)
	return res, ok
}

// Condensation returns a cached condensation result
func (p *Pipeline) Condensation(id string) (*models.CondensationResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.condensations.get(id)
	return res, ok
}

// Repurposed returns a cached repurpose result
func (p *Pipeline) Repurposed(id string) (*models.RepurposeResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.repurposes.get(id)
	return res, ok
}

// Deployments returns the retained deployment history, oldest first
func (p *Pipeline) Deployments() []*models.DeploymentResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deployments.values()
}

// Execute runs all four stages. It never returns an error: a failing,
// panicking or cancelled stage yields a run in the failed state.
func (p *Pipeline) Execute(ctx context.Context, req Request) models.PipelineRun {
	start := time.Now()
	run := models.PipelineRun{
		ID:         uuid.New().String(),
		Target:     req.Target,
		TargetType: req.TargetType,
		Depth:      req.Depth,
		Status:     models.RunRunning,
		State:      models.StateCreated,
		CreatedAt:  p.now(),
	}
	if run.Depth == "" {
		run.Depth = models.DepthStandard
	}

	ctx = logging.EnsureCorrelationID(logging.WithPipelineID(ctx, run.ID))
	ctx, span := p.tracer.Start(ctx, "ecrr.pipeline", trace.WithAttributes(
		tracing.AttrPipelineID.String(run.ID),
		tracing.AttrTarget.String(run.Target),
		tracing.AttrTargetType.String(string(run.TargetType)),
		tracing.AttrDepth.String(string(run.Depth)),
	))
	log := p.logger.WithContext(ctx)
	log.Info("pipeline started",
		logging.String("target", run.Target),
		logging.String("target_type", string(run.TargetType)),
		logging.String("depth", string(run.Depth)),
	)
	p.saveRun(ctx, run)

	err := p.run(ctx, &run, req)

	completed := p.now()
	run.CompletedAt = &completed
	run.Duration = time.Since(start)
	if err != nil {
		run.Status = models.RunFailed
		run.FailedStage = failedStage(run.State)
		run.State = models.StateFailed
		run.Error = err.Error()
		log.Error("pipeline failed", logging.String("stage", string(run.FailedStage)), logging.Err(err))
	} else {
		run.Status = models.RunCompleted
		run.Summary = summarize(&run)
		log.Info("pipeline completed",
			logging.Int("agents_created", run.Summary.AgentsCreated),
			logging.Float64("success_rate", run.Summary.SuccessRate),
			logging.Duration("duration", run.Duration),
		)
	}

	p.saveRun(ctx, run)
	p.metrics.IncrementCounter(metrics.PipelineRuns.Name, metrics.Labels(
		"target_type", string(run.TargetType),
		"status", string(run.Status),
	))
	p.publish(ctx, run)
	tracing.EndSpan(span, err)
	return run
}

func (p *Pipeline) run(ctx context.Context, run *models.PipelineRun, req Request) error {
	legion := models.DefaultLegionContext()
	if req.Legion != nil {
		legion = *req.Legion
	}
	deployment := models.DefaultDeploymentConfig()
	if req.Deployment != nil {
		deployment = *req.Deployment
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageEmulate, func(ctx context.Context) (err error) {
			run.Emulation, err = p.Emulate(ctx, Target{Name: req.Target, Type: req.TargetType, Depth: run.Depth})
			if err == nil {
				run.Target = run.Emulation.Target
				run.TargetType = run.Emulation.TargetType
				run.Depth = run.Emulation.Depth
			}
			return err
		}},
		{StageCondense, func(ctx context.Context) (err error) {
			run.Condensation, err = p.Condense(ctx, run.Emulation)
			return err
		}},
		{StageRepurpose, func(ctx context.Context) (err error) {
			run.Repurpose, err = p.Repurpose(ctx, run.Condensation, legion)
			return err
		}},
		{StageRedeploy, func(ctx context.Context) (err error) {
			run.Deployment, err = p.Redeploy(ctx, run.Repurpose, deployment)
			return err
		}},
	}

	for _, step := range steps {
		next, err := run.State.Next()
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return &models.StageError{Stage: next, Err: err}
		}
		if err := p.stage(ctx, step.name, step.fn); err != nil {
			return &models.StageError{Stage: next, Err: err}
		}
		run.State = next
		p.saveRun(ctx, *run)
	}
	return nil
}

// stage runs fn inside a span, recovering panics as errors
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ecrr."+name, trace.WithAttributes(tracing.AttrStage.String(name)))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", name, r)
		}
		p.metrics.ObserveDuration(metrics.PipelineStageDuration.Name, start, metrics.Labels(
			"stage", name,
			"status", metrics.StatusLabel(err),
		))
		tracing.EndSpan(span, err)
	}()
	return fn(ctx)
}

// failedStage is the state the pipeline was trying to reach
func failedStage(reached models.PipelineState) models.PipelineState {
	next, err := reached.Next()
	if err != nil {
		return reached
	}
	return next
}

func (p *Pipeline) saveRun(ctx context.Context, run models.PipelineRun) {
	if p.store == nil {
		p.mu.Lock()
		p.runs.put(run.ID, run)
		p.mu.Unlock()
		return
	}
	if err := p.store.PutRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.WithContext(ctx).Warn("failed to persist pipeline run", logging.String("pipeline_id", run.ID), logging.Err(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, run models.PipelineRun) {
	ctx = context.WithoutCancel(ctx)
	payload := map[string]interface{}{
		"pipeline_id": run.ID,
		"target":      run.Target,
		"target_type": string(run.TargetType),
		"duration_ms": run.Duration.Milliseconds(),
	}
	if run.Status == models.RunFailed {
		payload["failed_stage"] = string(run.FailedStage)
		payload["error"] = run.Error
		p.emitter.Emit(ctx, events.EventPipelineFailed, payload)
		return
	}

	payload["agents_created"] = run.Summary.AgentsCreated
	payload["success_rate"] = run.Summary.SuccessRate
	p.emitter.Emit(ctx, events.EventPipelineCompleted, payload)

	if p.activity == nil {
		return
	}
	if _, err := p.activity.Record(ctx, activity.Entry{
		Type:    models.LogSystem,
		Method:  "pipeline_execute",
		Content: fmt.Sprintf("ECRR pipeline for %s (%s) deployed %d agents", run.Target, run.TargetType, run.Summary.AgentsCreated),
		Metadata: map[string]interface{}{
			"pipeline_id":    run.ID,
			"agents_created": run.Summary.AgentsCreated,
		},
	}); err != nil {
		p.logger.WithContext(ctx).Warn("failed to record pipeline activity", logging.Err(err))
	}
}

// Run returns a pipeline run by id
func (p *Pipeline) Run(ctx context.Context, id string) (models.PipelineRun, error) {
	if p.store != nil {
		return p.store.GetRun(ctx, id)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	run, ok := p.runs.get(id)
	if !ok {
		return models.PipelineRun{}, models.NotFoundf("pipeline run %s", id)
	}
	return run, nil
}

// Runs lists pipeline runs, most recent first
func (p *Pipeline) Runs(ctx context.Context) ([]models.PipelineRun, error) {
	if p.store != nil {
		return p.store.ListRuns(ctx)
	}
	p.mu.RLock()
	runs := p.runs.values()
	p.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// summarize aggregates a completed run
func summarize(run *models.PipelineRun) *models.PipelineSummary {
	dep := run.Deployment
	return &models.PipelineSummary{
		AgentsCreated:       len(dep.DeployedAgents),
		SuccessRate:         dep.SuccessRate,
		ComplexityReduction: run.Condensation.ComplexityReduction.ReductionRatio,
		EstimatedValue:      estimateValue(run.Emulation, run.Condensation, dep),
		LegionImpact:        legionImpact(dep),
	}
}

// estimateValue scores the run from its artifacts. Each score stays inside
// a fixed band.
func estimateValue(e *models.EmulationResult, c *models.CondensationResult, d *models.DeploymentResult) models.ValueEstimate {
	reduction := c.ComplexityReduction.ReductionRatio
	return models.ValueEstimate{
		ReplicationAccuracy:     e.SuccessProbability,
		DeploymentEfficiency:    d.SuccessRate,
		ResourceOptimization:    round3(0.6 + 0.3*clampUnit(reduction)),
		TimeToMarketImprovement: round3(0.4 + 0.4*clampUnit((e.ReplicationFeasibility-0.6)/0.35)),
		CostReduction:           round3(0.3 + 0.4*clampUnit(reduction)),
		ScalabilityImprovement:  round3(0.5 + 0.4*clampUnit((e.Scalability.HorizontalScaling-0.3)/0.6)),
	}
}

func legionImpact(d *models.DeploymentResult) models.LegionImpact {
	n := len(d.DeployedAgents)
	types := map[models.AgentType]bool{}
	paths := map[string]bool{}
	for _, a := range d.DeployedAgents {
		types[a.Type] = true
		paths[a.SpecializationPath] = true
	}
	coordination := "low"
	if n > 5 {
		coordination = "medium"
	}
	return models.LegionImpact{
		Growth:               fmt.Sprintf("+%d agents", n),
		CapabilityExpansion:  len(types),
		CoordinationIncrease: coordination,
		NewSpecializations:   len(paths),
		ResourceUtilization:  fmt.Sprintf("+%d%% estimated", n*10),
	}
}
