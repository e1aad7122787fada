package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/events"
	"github.com/clearline-ai/clearline/model"
	"github.com/clearline-ai/clearline/store"
	"github.com/clearline-ai/clearline/telemetry"
	"github.com/clearline-ai/clearline/verify"
)

type (
	// Session is the tenant-scoped persistence surface the pipeline drives.
	// *store.Session satisfies it; tests substitute fakes.
	Session interface {
		GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
		RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
		AppendMessage(ctx context.Context, conversationID uuid.UUID, role store.MessageRole, content string, state store.MessageState) (*store.Message, error)
		FinaliseMessage(ctx context.Context, id uuid.UUID, content string, state store.MessageState, confidence *store.ConfidenceLevel, verification json.RawMessage) error
		SetConversationTitle(ctx context.Context, id uuid.UUID, title string) error
		SetConversationState(ctx context.Context, id uuid.UUID, state store.ConversationState) error
		CreateInvocation(ctx context.Context, conversationID uuid.UUID, mode, query string, personaID *uuid.UUID) (*store.AgentInvocation, error)
		GetInvocation(ctx context.Context, id uuid.UUID) (*store.AgentInvocation, error)
		SetInvocationState(ctx context.Context, id uuid.UUID, state store.InvocationState) error
		CancelInvocation(ctx context.Context, id uuid.UUID) error
		MarkInvocationModel(ctx context.Context, id uuid.UUID, modelID string, cacheHit bool) error
		GetPersona(ctx context.Context, id uuid.UUID) (*store.Persona, error)
		PutCacheEntry(ctx context.Context, query string, embedding []float32, response string, sources json.RawMessage, ttl time.Duration) (*store.SemanticCacheEntry, error)
		NearestCacheEntry(ctx context.Context, embedding []float32, threshold float64) (*store.CacheMatch, error)
		TouchCacheEntry(ctx context.Context, id uuid.UUID) error
		Close() error
	}

	// Store hands out tenant-scoped sessions. Every pipeline run owns its
	// session for the whole run.
	Store interface {
		Session(ctx context.Context, tenant uuid.UUID) (Session, error)
	}

	// Options configures a Pipeline.
	Options struct {
		// Store, Hub, Model, Embedder, Search, Legislation and Verifier are
		// required collaborators.
		Store       Store
		Hub         events.Hub
		Model       model.Client
		Embedder    model.Embedder
		Search      Searcher
		Legislation LegislationAPI
		Verifier    *verify.Verifier
		// Models is the tier routing table, used for usage reporting.
		Models model.TierRouter
		// CacheThreshold is the minimum cosine similarity for a semantic
		// cache hit. Defaults to 0.95.
		CacheThreshold float64
		// CacheTTL bounds cache entry lifetime. Defaults to 30 days.
		CacheTTL time.Duration
		// CacheRead enables the read-path short-circuit. Defaults to true.
		CacheRead *bool
		// QAAutoApprove makes the advisory quality review accept every
		// answer. Defaults to true.
		QAAutoApprove *bool
		// HistoryLimit is how many prior messages feed the orchestrator.
		// Defaults to 20.
		HistoryLimit int
	}

	// Pipeline turns one user query into a streamed, verified, scored
	// assistant answer.
	Pipeline struct {
		store       Store
		hub         events.Hub
		model       model.Client
		embedder    model.Embedder
		search      Searcher
		legislation LegislationAPI
		verifier    *verify.Verifier
		models      model.TierRouter

		cacheThreshold float64
		cacheTTL       time.Duration
		cacheRead      bool
		qaAutoApprove  bool
		historyLimit   int
	}

	// RunRequest identifies one user query to answer.
	RunRequest struct {
		Tenant         uuid.UUID
		ConversationID uuid.UUID
		Query          string
		Mode           string
		PersonaID      *uuid.UUID
	}

	// RunResult summarises a finished run.
	RunResult struct {
		InvocationID uuid.UUID
		MessageID    uuid.UUID
		Content      string
		Confidence   store.ConfidenceLevel
		CacheHit     bool
		Cancelled    bool
	}

	// run carries per-invocation state between stages.
	run struct {
		tenant         uuid.UUID
		conversationID uuid.UUID
		query          string
		channel        events.Channel
		sess           Session
		invocation     *store.AgentInvocation
		queryEmbedding []float32
	}
)

// ErrCancelled reports that the invocation was cancelled mid-run.
var ErrCancelled = errors.New("agent: invocation cancelled")

// New validates the options and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("agent: store is required")
	case opts.Hub == nil:
		return nil, errors.New("agent: event hub is required")
	case opts.Model == nil:
		return nil, errors.New("agent: model client is required")
	case opts.Embedder == nil:
		return nil, errors.New("agent: embedder is required")
	case opts.Search == nil:
		return nil, errors.New("agent: retrieval searcher is required")
	case opts.Legislation == nil:
		return nil, errors.New("agent: legislation api is required")
	case opts.Verifier == nil:
		return nil, errors.New("agent: verifier is required")
	}
	if opts.CacheThreshold <= 0 || opts.CacheThreshold > 1 {
		opts.CacheThreshold = 0.95
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * 24 * time.Hour
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	boolOr := func(v *bool, def bool) bool {
		if v == nil {
			return def
		}
		return *v
	}
	return &Pipeline{
		store:          opts.Store,
		hub:            opts.Hub,
		model:          opts.Model,
		embedder:       opts.Embedder,
		search:         opts.Search,
		legislation:    opts.Legislation,
		verifier:       opts.Verifier,
		models:         opts.Models,
		cacheThreshold: opts.CacheThreshold,
		cacheTTL:       opts.CacheTTL,
		cacheRead:      boolOr(opts.CacheRead, true),
		qaAutoApprove:  boolOr(opts.QAAutoApprove, true),
		historyLimit:   opts.HistoryLimit,
	}, nil
}

// Run executes the full pipeline for one user query. On failure the
// invocation row moves to error and the stream ends with an error frame.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (res RunResult, err error) {
	if req.Query == "" {
		return res, errs.New(errs.KindValidation, "query text is required")
	}
	channel, err := events.NewChannel(req.Tenant.String(), events.ScopeConversation, req.ConversationID.String())
	if err != nil {
		return res, err
	}
	sess, err := p.store.Session(ctx, req.Tenant)
	if err != nil {
		return res, err
	}
	defer sess.Close()

	r := &run{
		tenant:         req.Tenant,
		conversationID: req.ConversationID,
		query:          req.Query,
		channel:        channel,
		sess:           sess,
	}

	res, err = p.runStages(ctx, r, req)
	if err != nil && !errors.Is(err, ErrCancelled) {
		p.failRun(ctx, r, err)
	}
	return res, err
}

func (p *Pipeline) runStages(ctx context.Context, r *run, req RunRequest) (RunResult, error) {
	var res RunResult

	// Stage 1: load context.
	conv, err := r.sess.GetConversation(ctx, r.conversationID)
	if err != nil {
		return res, err
	}
	history, err := r.sess.RecentMessages(ctx, r.conversationID, p.historyLimit)
	if err != nil {
		return res, err
	}
	var persona *store.Persona
	if req.PersonaID != nil {
		persona, err = r.sess.GetPersona(ctx, *req.PersonaID)
		if err != nil {
			return res, err
		}
	}
	r.invocation, err = r.sess.CreateInvocation(ctx, r.conversationID, req.Mode, req.Query, req.PersonaID)
	if err != nil {
		return res, err
	}
	res.InvocationID = r.invocation.ID
	if err := r.sess.SetInvocationState(ctx, r.invocation.ID, store.InvocationRunning); err != nil {
		return res, err
	}

	// Optional semantic cache short-circuit before routing.
	if p.cacheRead {
		if hit, ok := p.tryCache(ctx, r); ok {
			res.MessageID, res.Content, res.CacheHit = hit.MessageID, hit.Content, true
			res.Confidence = store.ConfidenceHigh
			return res, nil
		}
	}

	// Stage 2: router.
	p.publish(ctx, r, events.NewAgentStart("router", "classifying query"))
	elapsed := stageTimer()
	decision, err := p.route(ctx, r.query)
	if err != nil {
		p.publish(ctx, r, events.NewAgentCompleteError("router", elapsed(), errs.KindOf(err).String(), "query classification failed"))
		return res, err
	}
	p.publish(ctx, r, events.NewAgentComplete("router", elapsed()))
	if p.isCancelled(ctx, r) {
		return p.finishCancelled(ctx, r, res)
	}

	// Stage 3: knowledge retrieval.
	knowledge := p.gatherKnowledge(ctx, r, decision)
	p.announceSources(ctx, r, knowledge)
	if p.isCancelled(ctx, r) {
		return p.finishCancelled(ctx, r, res)
	}

	// Stages 4-5: streaming orchestrator plus disclaimer.
	p.publish(ctx, r, events.NewAgentStart("orchestrator", "generating answer"))
	elapsed = stageTimer()
	content, usage, err := p.orchestrate(ctx, r, persona, decision, knowledge, history)
	if err != nil {
		p.publish(ctx, r, events.NewAgentCompleteError("orchestrator", elapsed(), errs.KindOf(err).String(), "answer generation failed"))
		return res, err
	}
	p.publish(ctx, r, events.NewAgentComplete("orchestrator", elapsed()))
	modelID := p.models.Standard
	if usage != nil {
		p.publish(ctx, r, events.NewUsageMetrics(modelID, usage.InputTokens, usage.OutputTokens))
	}

	// A cancel that landed while the answer streamed is honoured here: the
	// partial content is persisted in the cancelled state and the run exits
	// before finalisation.
	if p.isCancelled(ctx, r) {
		if msg, aerr := r.sess.AppendMessage(ctx, r.conversationID, store.RoleAssistant, content, store.MessageCancelled); aerr == nil {
			res.MessageID, res.Content = msg.ID, content
		} else {
			log.Errorf(ctx, aerr, "agent: partial content could not be persisted after cancellation")
		}
		return p.finishCancelled(ctx, r, res)
	}

	// Stage 6: persist the assistant message; finalisation comes after
	// verification and scoring.
	msg, err := r.sess.AppendMessage(ctx, r.conversationID, store.RoleAssistant, content, store.MessageStreaming)
	if err != nil {
		return res, err
	}
	res.MessageID, res.Content = msg.ID, content

	// Stage 7: citation verification. Upstream unavailability records an
	// empty result and continues.
	p.publish(ctx, r, events.NewAgentStart("verification", "checking citations"))
	elapsed = stageTimer()
	verification, err := p.verifier.Verify(ctx, content)
	if err != nil {
		log.Errorf(ctx, err, "agent: verification degraded to empty result")
		verification = &verify.Result{}
	}
	p.publish(ctx, r, events.NewVerificationResult(verification.Checked, verification.Verified, verification.Issues))
	p.publish(ctx, r, events.NewAgentComplete("verification", elapsed()))

	// Stage 8: advisory quality review.
	p.reviewQuality(ctx, r.query, content, p.qaAutoApprove)

	// Stage 9: confidence scoring and message finalisation.
	sourcesUsed := len(knowledge.Policies) + len(knowledge.Legal) + len(knowledge.CaseLaw)
	level, reason := scoreConfidence(verification, sourcesUsed)
	res.Confidence = level
	p.publish(ctx, r, events.NewConfidenceUpdate(string(level), reason))
	verificationBlob, merr := json.Marshal(verification)
	if merr != nil {
		verificationBlob = []byte("{}")
	}
	if err := r.sess.FinaliseMessage(ctx, msg.ID, content, store.MessageComplete, &level, verificationBlob); err != nil {
		return res, err
	}

	// Stage 10: title generation on first exchange.
	p.maybeGenerateTitle(ctx, r, conv, history)

	// Stage 11: best-effort semantic cache write.
	if level == store.ConfidenceHigh {
		p.writeCache(ctx, r, content, knowledge)
	}

	// Stage 12: finalise.
	if err := r.sess.MarkInvocationModel(ctx, r.invocation.ID, modelID, false); err != nil {
		return res, err
	}
	if err := r.sess.SetInvocationState(ctx, r.invocation.ID, store.InvocationComplete); err != nil {
		return res, err
	}
	if err := r.sess.SetConversationState(ctx, r.conversationID, store.ConversationReady); err != nil {
		return res, err
	}
	p.publish(ctx, r, events.NewMessageComplete(msg.ID.String()))
	p.publish(ctx, r, events.NewConversationState(string(store.ConversationReady)))
	return res, nil
}

// orchestrate streams the main-model answer, publishing one content-delta
// per text chunk and never buffering the reply before publishing. The fixed
// disclaimer is streamed and appended unconditionally.
func (p *Pipeline) orchestrate(ctx context.Context, r *run, persona *store.Persona, decision RouterDecision, knowledge *Knowledge, history []store.Message) (string, *model.TokenUsage, error) {
	msgs := make([]model.Message, 0, len(history)+1)
	for _, m := range trimHistory(history, r.query) {
		msgs = append(msgs, model.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: r.query})

	streamer, err := p.model.Stream(ctx, model.Request{
		Tier:     model.TierStandard,
		System:   buildSystemPrompt(persona, decision, knowledge),
		Messages: msgs,
	})
	if err != nil {
		return "", nil, err
	}
	defer streamer.Close()

	var (
		b     strings.Builder
		usage *model.TokenUsage
	)
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			b.WriteString(chunk.Text)
			p.publish(ctx, r, events.NewContentDelta(chunk.Text))
		case model.ChunkTypeUsage:
			usage = chunk.Usage
		case model.ChunkTypeStop:
		}
	}

	b.WriteString(Disclaimer)
	p.publish(ctx, r, events.NewContentDelta(Disclaimer))
	return b.String(), usage, nil
}

// announceSources emits one source event per retrieved item.
func (p *Pipeline) announceSources(ctx context.Context, r *run, k *Knowledge) {
	for _, item := range k.Legal {
		status := ""
		if item.Historical {
			status = "historical"
		}
		p.publish(ctx, r, events.NewLegalSource(item.Act, item.Section, item.URI, status))
	}
	for _, item := range k.CaseLaw {
		p.publish(ctx, r, events.NewCaseLawSource(item.Case, item.Citation, item.URI))
	}
	for _, item := range k.Policies {
		p.publish(ctx, r, events.NewCompanyPolicySource(item.DocumentName, item.Category, item.DocumentURI))
	}
}

type cacheHit struct {
	MessageID uuid.UUID
	Content   string
}

// tryCache embeds the query and short-circuits the pipeline when a live
// cache entry clears the similarity threshold. Cache trouble degrades to a
// miss.
func (p *Pipeline) tryCache(ctx context.Context, r *run) (cacheHit, bool) {
	vectors, err := p.embedder.Embed(ctx, []string{r.query})
	if err != nil || len(vectors) != 1 {
		log.Debugf(ctx, "agent: cache probe embedding failed, treating as miss: %v", err)
		return cacheHit{}, false
	}
	r.queryEmbedding = vectors[0]

	match, err := r.sess.NearestCacheEntry(ctx, r.queryEmbedding, p.cacheThreshold)
	if err != nil {
		if !errs.IsNotFound(err) {
			log.Debugf(ctx, "agent: cache lookup failed, treating as miss: %v", err)
		}
		return cacheHit{}, false
	}
	if err := r.sess.TouchCacheEntry(ctx, match.ID); err != nil {
		log.Debugf(ctx, "agent: cache hit counter update failed: %v", err)
	}

	p.publish(ctx, r, events.NewContentDelta(match.Response))
	level := store.ConfidenceHigh
	msg, err := r.sess.AppendMessage(ctx, r.conversationID, store.RoleAssistant, match.Response, store.MessageStreaming)
	if err != nil {
		log.Errorf(ctx, err, "agent: cached response could not be persisted, falling back to full run")
		return cacheHit{}, false
	}
	if err := r.sess.FinaliseMessage(ctx, msg.ID, match.Response, store.MessageComplete, &level, match.Sources); err != nil {
		log.Errorf(ctx, err, "agent: cached response could not be finalised, falling back to full run")
		return cacheHit{}, false
	}
	_ = r.sess.MarkInvocationModel(ctx, r.invocation.ID, "semantic-cache", true)
	_ = r.sess.SetInvocationState(ctx, r.invocation.ID, store.InvocationComplete)
	p.publish(ctx, r, events.NewMessageComplete(msg.ID.String()))
	log.Infof(ctx, "agent: semantic cache hit (similarity %.3f)", match.Similarity)
	return cacheHit{MessageID: msg.ID, Content: match.Response}, true
}

// writeCache stores a high-confidence answer keyed by the query embedding.
// Failures are logged, never propagated.
func (p *Pipeline) writeCache(ctx context.Context, r *run, content string, k *Knowledge) {
	embedding := r.queryEmbedding
	if embedding == nil {
		vectors, err := p.embedder.Embed(ctx, []string{r.query})
		if err != nil || len(vectors) != 1 {
			log.Debugf(ctx, "agent: cache write skipped, embedding failed: %v", err)
			return
		}
		embedding = vectors[0]
	}
	sources, err := json.Marshal(k)
	if err != nil {
		sources = []byte("{}")
	}
	if _, err := r.sess.PutCacheEntry(ctx, r.query, embedding, content, sources, p.cacheTTL); err != nil {
		log.Debugf(ctx, "agent: cache write failed: %v", err)
	}
}

// maybeGenerateTitle generates a conversation title on the first exchange.
// Failures log and continue.
func (p *Pipeline) maybeGenerateTitle(ctx context.Context, r *run, conv *store.Conversation, history []store.Message) {
	if conv.Title != nil || len(history) > 1 {
		return
	}
	p.publish(ctx, r, events.NewConversationTitleUpdating(r.conversationID.String()))
	title, err := p.generateTitle(ctx, r.query)
	if err != nil {
		log.Errorf(ctx, err, "agent: title generation failed, conversation stays untitled")
		return
	}
	if err := r.sess.SetConversationTitle(ctx, r.conversationID, title); err != nil {
		log.Errorf(ctx, err, "agent: generated title could not be persisted")
		return
	}
	p.publish(ctx, r, events.NewConversationTitleUpdated(r.conversationID.String(), title))
}

var titleSchema = model.MustCompileSchema("title", `{
	"type": "object",
	"properties": {"title": {"type": "string", "minLength": 1, "maxLength": 120}},
	"required": ["title"]
}`)

func (p *Pipeline) generateTitle(ctx context.Context, query string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	req := model.Request{
		Tier:      model.TierFast,
		System:    `Produce a short descriptive title (at most eight words) for a conversation that starts with the user message. Respond with JSON only: {"title": "..."}`,
		Messages:  []model.Message{{Role: model.RoleUser, Content: query}},
		MaxTokens: 128,
	}
	if err := model.GenerateJSON(ctx, p.model, req, titleSchema, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// Cancel moves a pending or running invocation to cancelled and publishes
// the cancellation event. In-flight stages observe the row state at their
// next boundary and exit.
func (p *Pipeline) Cancel(ctx context.Context, tenant, conversationID, invocationID uuid.UUID) error {
	sess, err := p.store.Session(ctx, tenant)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.CancelInvocation(ctx, invocationID); err != nil {
		return err
	}
	channel, err := events.NewChannel(tenant.String(), events.ScopeConversation, conversationID.String())
	if err != nil {
		return err
	}
	if _, err := p.hub.Publish(ctx, channel, events.NewConversationCancelled(invocationID.String())); err != nil {
		log.Errorf(ctx, err, "agent: cancellation event could not be published")
	}
	return nil
}

// isCancelled checks the invocation row at a stage boundary.
func (p *Pipeline) isCancelled(ctx context.Context, r *run) bool {
	inv, err := r.sess.GetInvocation(ctx, r.invocation.ID)
	if err != nil {
		log.Debugf(ctx, "agent: cancellation check failed, continuing: %v", err)
		return false
	}
	return inv.State == store.InvocationCancelled
}

func (p *Pipeline) finishCancelled(ctx context.Context, r *run, res RunResult) (RunResult, error) {
	res.Cancelled = true
	log.Infof(ctx, "agent: invocation %s cancelled, exiting at stage boundary", r.invocation.ID)
	return res, ErrCancelled
}

// failRun records the failure on the invocation row and ends the stream
// with an error frame.
func (p *Pipeline) failRun(ctx context.Context, r *run, cause error) {
	log.Errorf(ctx, cause, "agent: pipeline run failed")
	if r.invocation != nil {
		if err := r.sess.SetInvocationState(ctx, r.invocation.ID, store.InvocationError); err != nil {
			log.Errorf(ctx, err, "agent: invocation could not be moved to error state")
		}
	}
	p.publish(ctx, r, events.NewError(errs.KindOf(cause).String(), "the assistant could not complete this request", false))
}

// publish sends an event to the run's channel. Publish failures are logged;
// the pipeline never fails because a subscriber cannot be reached.
func (p *Pipeline) publish(ctx context.Context, r *run, ev events.Event) {
	if ac, ok := ev.(events.AgentComplete); ok {
		telemetry.RecordStageDuration(ctx, ac.Data.Name, time.Duration(ac.Data.DurationMS)*time.Millisecond)
	}
	if _, err := p.hub.Publish(ctx, r.channel, ev); err != nil {
		log.Errorf(ctx, err, "agent: event %s could not be published", ev.Type())
	}
}
