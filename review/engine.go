// Package review runs long-running policy compliance reviews: it identifies
// the policy type of an uploaded document, evaluates every compliance
// criterion of the matched definition against retrieved guidance and
// legislation, and aggregates the outcomes with a deterministic red/amber/
// green rollup. Progress streams through the event fabric on the review's
// channel; the review row is the authoritative record of the result.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/events"
	"github.com/clearline-ai/clearline/legislation"
	"github.com/clearline-ai/clearline/model"
	"github.com/clearline-ai/clearline/retrieval"
	"github.com/clearline-ai/clearline/store"
	"github.com/clearline-ai/clearline/telemetry"
)

type (
	// Session is the tenant-scoped persistence surface the engine drives.
	// *store.Session satisfies it; tests substitute fakes.
	Session interface {
		CreatePolicyReview(ctx context.Context, userID uuid.UUID, definitionID *uuid.UUID) (*store.PolicyReview, error)
		GetPolicyReview(ctx context.Context, id uuid.UUID) (*store.PolicyReview, error)
		SetReviewState(ctx context.Context, id uuid.UUID, state store.ReviewState) error
		SetReviewDefinition(ctx context.Context, id, definitionID uuid.UUID) error
		SetReviewResult(ctx context.Context, id uuid.UUID, state store.ReviewState, result json.RawMessage) error
		CancelPolicyReview(ctx context.Context, id uuid.UUID) error
		GetPolicyDefinition(ctx context.Context, id uuid.UUID) (*store.PolicyDefinition, error)
		ActivePolicyDefinitions(ctx context.Context) ([]store.PolicyDefinition, error)
		CompletedPolicyReviews(ctx context.Context, from, to time.Time) ([]store.PolicyReview, error)
		Close() error
	}

	// Store hands out tenant-scoped sessions. Every review run owns its
	// session for the whole run.
	Store interface {
		Session(ctx context.Context, tenant uuid.UUID) (Session, error)
	}

	// Searcher is the retrieval-core surface used for tenant guidance.
	Searcher interface {
		Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
	}

	// LegislationAPI is the slice of the legislation gateway the engine
	// uses. Production binds fresh clients to the active endpoint.
	LegislationAPI interface {
		SearchSections(ctx context.Context, query string) (*legislation.SearchResult, error)
		SearchAmendments(ctx context.Context, query string) (*legislation.SearchResult, error)
	}

	// Options configures an Engine.
	Options struct {
		// Store, Hub, Model, Search and Legislation are required
		// collaborators.
		Store       Store
		Hub         events.Hub
		Model       model.Client
		Search      Searcher
		Legislation LegislationAPI
		// Deadline bounds one review run; breach is recorded as
		// POLICY_REVIEW_TIMEOUT. Defaults to 10 minutes.
		Deadline time.Duration
		// Workers bounds concurrent criterion evaluations. Defaults to 4.
		Workers int
		// MinTypeConfidence is the identification confidence below which the
		// review aborts with a validation error. Defaults to 0.6.
		MinTypeConfidence float64
	}

	// Engine runs policy reviews.
	Engine struct {
		store       Store
		hub         events.Hub
		model       model.Client
		search      Searcher
		legislation LegislationAPI

		deadline          time.Duration
		workers           int
		minTypeConfidence float64
	}

	// RunRequest identifies one document to review.
	RunRequest struct {
		Tenant       uuid.UUID
		UserID       uuid.UUID
		DocumentName string
		DocumentText string
		// DefinitionID skips type identification when set.
		DefinitionID *uuid.UUID
	}

	// RunResult summarises a finished review.
	RunResult struct {
		ReviewID uuid.UUID
		Report   *Report
	}

	// runState carries per-review state between stages.
	runState struct {
		tenant  uuid.UUID
		sess    Session
		review  *store.PolicyReview
		channel events.Channel
	}
)

// ErrCancelled reports that the review was cancelled mid-run.
var ErrCancelled = errors.New("review: cancelled")

// stageName labels the review job in agent-start/agent-complete events.
const stageName = "policy-review"

// NewEngine validates the options and builds an Engine.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("review: store is required")
	case opts.Hub == nil:
		return nil, errors.New("review: event hub is required")
	case opts.Model == nil:
		return nil, errors.New("review: model client is required")
	case opts.Search == nil:
		return nil, errors.New("review: retrieval searcher is required")
	case opts.Legislation == nil:
		return nil, errors.New("review: legislation api is required")
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MinTypeConfidence <= 0 {
		opts.MinTypeConfidence = 0.6
	}
	return &Engine{
		store:             opts.Store,
		hub:               opts.Hub,
		model:             opts.Model,
		search:            opts.Search,
		legislation:       opts.Legislation,
		deadline:          opts.Deadline,
		workers:           opts.Workers,
		minTypeConfidence: opts.MinTypeConfidence,
	}, nil
}

// Run executes one review end to end. Every failure is caught at this level
// and recorded on the review row so clients observe it via the stream and
// the row; the returned error carries the original cause.
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	var res RunResult
	if req.DocumentText == "" {
		return res, errs.New(errs.KindValidation, "document text is required")
	}
	sess, err := e.store.Session(ctx, req.Tenant)
	if err != nil {
		return res, err
	}
	defer sess.Close()

	review, err := sess.CreatePolicyReview(ctx, req.UserID, req.DefinitionID)
	if err != nil {
		return res, err
	}
	res.ReviewID = review.ID
	channel, err := events.NewChannel(req.Tenant.String(), events.ScopePolicyReview, review.ID.String())
	if err != nil {
		return res, err
	}
	r := &runState{tenant: req.Tenant, sess: sess, review: review, channel: channel}
	e.notifyUser(ctx, req.Tenant, req.UserID, events.NewPolicyReviewCreated(review.ID.String()))

	// The logical deadline applies to the staged work, not to recording the
	// failure afterwards.
	rctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	started := time.Now()
	report, err := e.runStages(rctx, r, req)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			log.Infof(ctx, "review: %s cancelled, exiting at stage boundary", review.ID)
			return res, err
		}
		e.failRun(ctx, r, err, time.Since(started).Milliseconds())
		return res, err
	}
	res.Report = report
	return res, nil
}

func (e *Engine) runStages(ctx context.Context, r *runState, req RunRequest) (*Report, error) {
	// Stage 1: pending -> processing.
	e.publish(ctx, r, events.NewAgentStart(stageName, "reviewing "+req.DocumentName))
	elapsed := time.Now()
	if err := r.sess.SetReviewState(ctx, r.review.ID, store.ReviewProcessing); err != nil {
		return nil, err
	}
	e.publish(ctx, r, events.NewPolicyReviewStatus(string(store.ReviewProcessing), "review started"))

	// Stage 2: policy-type identification when no definition was supplied.
	report := &Report{PolicyName: req.DocumentName}
	definitionID := req.DefinitionID
	if definitionID == nil {
		identified, def, err := e.identifyPolicyType(ctx, r, req.DocumentText)
		if err != nil {
			return nil, err
		}
		report.Identification = identified
		definitionID = &def.ID
		if err := r.sess.SetReviewDefinition(ctx, r.review.ID, def.ID); err != nil {
			return nil, err
		}
	}
	if cancelled, err := e.checkCancelled(ctx, r); err != nil || cancelled {
		return nil, firstErr(err, ErrCancelled)
	}

	// Stage 3: load the definition with its criteria and required sections.
	def, err := r.sess.GetPolicyDefinition(ctx, *definitionID)
	if err != nil {
		return nil, err
	}
	report.DefinitionURI = def.URI
	criteria, err := def.ComplianceCriteria()
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "definition compliance criteria are malformed", err)
	}

	// Stage 4: per-criterion evaluation.
	e.publish(ctx, r, events.NewPolicyReviewStatus(string(store.ReviewProcessing), "evaluating compliance criteria"))
	report.Criteria, err = e.evaluateCriteria(ctx, r, def, criteria, req.DocumentText)
	if err != nil {
		return nil, err
	}
	if cancelled, err := e.checkCancelled(ctx, r); err != nil || cancelled {
		return nil, firstErr(err, ErrCancelled)
	}

	// Stages 5-7: mechanical gap analysis, actions, rollup.
	report.Gaps = AnalyseGaps(def, req.DocumentText, report.Criteria)
	report.Actions = RecommendActions(report.Criteria)
	report.Overall = Rollup(report.Criteria)

	// Stage 8: summary generation.
	report.Summary, err = e.summarise(ctx, def.Name, report)
	if err != nil {
		return nil, err
	}
	if cancelled, err := e.checkCancelled(ctx, r); err != nil || cancelled {
		return nil, firstErr(err, ErrCancelled)
	}

	// Stage 9: persist and announce.
	blob, err := json.Marshal(report)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encode review report", err)
	}
	if err := r.sess.SetReviewResult(ctx, r.review.ID, store.ReviewComplete, blob); err != nil {
		return nil, err
	}
	e.publish(ctx, r, events.NewPolicyReviewStatus(string(store.ReviewComplete), "review complete"))
	e.publish(ctx, r, events.NewPolicyReviewComplete(r.review.ID.String()))
	e.publish(ctx, r, events.NewAgentComplete(stageName, time.Since(elapsed).Milliseconds()))
	return report, nil
}

// Cancel transitions a pending or processing review to cancelled and
// publishes the status change. Cancelling a terminal review is ignored.
func (e *Engine) Cancel(ctx context.Context, tenant, reviewID uuid.UUID) error {
	sess, err := e.store.Session(ctx, tenant)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.CancelPolicyReview(ctx, reviewID); err != nil {
		if errs.IsNotFound(err) {
			log.Debugf(ctx, "review: cancel of %s ignored, review is not pending or processing", reviewID)
			return nil
		}
		return err
	}
	channel, err := events.NewChannel(tenant.String(), events.ScopePolicyReview, reviewID.String())
	if err != nil {
		return err
	}
	if _, err := e.hub.Publish(ctx, channel, events.NewPolicyReviewStatus(string(store.ReviewCancelled), "review cancelled")); err != nil {
		log.Errorf(ctx, err, "review: cancellation event could not be published")
	}
	return nil
}

// checkCancelled observes the review row at a stage boundary.
func (e *Engine) checkCancelled(ctx context.Context, r *runState) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	review, err := r.sess.GetPolicyReview(ctx, r.review.ID)
	if err != nil {
		log.Debugf(ctx, "review: cancellation check failed, continuing: %v", err)
		return false, nil
	}
	return review.State == store.ReviewCancelled, nil
}

// failRun maps the cause to a stable code, records it on the review row, and
// ends the stream with the failure.
func (e *Engine) failRun(ctx context.Context, r *runState, cause error, durationMS int64) {
	code, message := MapFailure(cause)
	log.Errorf(ctx, cause, "review: %s failed with %s", r.review.ID, code)
	blob, err := json.Marshal(Failure{Code: code, Message: message})
	if err != nil {
		blob = []byte(`{"error_code":"` + CodeInternal + `"}`)
	}
	if err := r.sess.SetReviewResult(ctx, r.review.ID, store.ReviewError, blob); err != nil {
		log.Errorf(ctx, err, "review: failure could not be recorded on the review row")
	}
	e.publish(ctx, r, events.NewPolicyReviewFailed(code, message))
	e.publish(ctx, r, events.NewAgentCompleteError(stageName, durationMS, code, message))
}

// MapFailure maps an error to the stable review failure codes: deadline
// breaches to POLICY_REVIEW_TIMEOUT, validation failures (including type
// identification below threshold and schema-invalid model output) to
// VALIDATION_ERROR, everything else to INTERNAL_ERROR.
func MapFailure(err error) (code, message string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, "the review did not finish within its deadline"
	case errs.IsValidation(err):
		return CodeValidation, err.Error()
	default:
		return CodeInternal, "the review failed unexpectedly"
	}
}

// publish sends an event to the review's channel. Publish failures are
// logged; the row remains the authoritative record.
func (e *Engine) publish(ctx context.Context, r *runState, ev events.Event) {
	if ac, ok := ev.(events.AgentComplete); ok {
		telemetry.RecordStageDuration(ctx, ac.Data.Name, time.Duration(ac.Data.DurationMS)*time.Millisecond)
	}
	if _, err := e.hub.Publish(ctx, r.channel, ev); err != nil {
		log.Errorf(ctx, err, "review: event %s could not be published", ev.Type())
	}
}

// notifyUser pushes an event to the user's channel, best effort.
func (e *Engine) notifyUser(ctx context.Context, tenant, userID uuid.UUID, ev events.Event) {
	channel, err := events.NewChannel(tenant.String(), events.ScopeUser, userID.String())
	if err != nil {
		return
	}
	if _, err := e.hub.Publish(ctx, channel, ev); err != nil {
		log.Debugf(ctx, "review: user notification %s not published: %v", ev.Type(), err)
	}
}

func firstErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
