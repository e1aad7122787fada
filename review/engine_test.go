package review

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/events"
	"github.com/clearline-ai/clearline/legislation"
	"github.com/clearline-ai/clearline/model"
	"github.com/clearline-ai/clearline/retrieval"
	"github.com/clearline-ai/clearline/store"
)

// fakeHub records published events in order.
type fakeHub struct {
	published []events.Event
	channels  []events.Channel
}

func (h *fakeHub) Publish(_ context.Context, ch events.Channel, ev events.Event) (string, error) {
	h.published = append(h.published, ev)
	h.channels = append(h.channels, ch)
	return "id", nil
}

func (h *fakeHub) Subscribe(context.Context, events.Channel, string) (<-chan events.Frame, <-chan error, context.CancelFunc, error) {
	return nil, nil, func() {}, nil
}

func (h *fakeHub) count(t events.EventType) int {
	n := 0
	for _, ev := range h.published {
		if ev.Type() == t {
			n++
		}
	}
	return n
}

// fakeModel scripts the three call sites by system prompt.
type fakeModel struct {
	identifyJSON  string
	criterionJSON map[string]string // keyed by criterion name, falls back to defaultJSON
	defaultJSON   string
	summaryText   string
	// onSummary runs before the summary call returns, for races that land
	// while the summary generates.
	onSummary func()
}

func (m *fakeModel) Complete(_ context.Context, req model.Request) (model.Response, error) {
	switch {
	case strings.Contains(req.System, "identify"):
		return model.Response{Text: m.identifyJSON}, nil
	case strings.Contains(req.System, "executive summary"):
		if m.onSummary != nil {
			m.onSummary()
		}
		return model.Response{Text: m.summaryText}, nil
	default:
		user := req.Messages[len(req.Messages)-1].Content
		for name, out := range m.criterionJSON {
			if strings.Contains(user, "name: "+name) {
				return model.Response{Text: out}, nil
			}
		}
		return model.Response{Text: m.defaultJSON}, nil
	}
}

func (m *fakeModel) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, errors.New("not used")
}

type fakeSearcher struct{ results []retrieval.Result }

func (s *fakeSearcher) Search(context.Context, retrieval.Query) ([]retrieval.Result, error) {
	return s.results, nil
}

type fakeLegislation struct {
	sectionsErr error
}

func (l *fakeLegislation) SearchSections(context.Context, string) (*legislation.SearchResult, error) {
	if l.sectionsErr != nil {
		return nil, l.sectionsErr
	}
	raw, _ := json.Marshal(legislation.Section{Number: "8", Title: "Landlord condition", Content: "..."})
	return &legislation.SearchResult{Total: 1, Results: []json.RawMessage{raw}}, nil
}

func (l *fakeLegislation) SearchAmendments(context.Context, string) (*legislation.SearchResult, error) {
	return &legislation.SearchResult{}, nil
}

// fakeSession is the in-memory persistence double for review runs.
type fakeSession struct {
	reviews     map[uuid.UUID]*store.PolicyReview
	definitions map[uuid.UUID]*store.PolicyDefinition
	active      []store.PolicyDefinition
	completed   []store.PolicyReview
	// cancelAfterIdentify flips the row to cancelled once identification has
	// happened, exercising the stage-boundary check.
	cancelAfterIdentify bool
	identified          bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		reviews:     make(map[uuid.UUID]*store.PolicyReview),
		definitions: make(map[uuid.UUID]*store.PolicyDefinition),
	}
}

func (s *fakeSession) CreatePolicyReview(_ context.Context, userID uuid.UUID, definitionID *uuid.UUID) (*store.PolicyReview, error) {
	review := &store.PolicyReview{ID: store.NewID(), UserID: userID, DefinitionID: definitionID, State: store.ReviewPending}
	s.reviews[review.ID] = review
	return review, nil
}

func (s *fakeSession) GetPolicyReview(_ context.Context, id uuid.UUID) (*store.PolicyReview, error) {
	return s.reviews[id], nil
}

func (s *fakeSession) SetReviewState(_ context.Context, id uuid.UUID, state store.ReviewState) error {
	s.reviews[id].State = state
	return nil
}

func (s *fakeSession) SetReviewDefinition(_ context.Context, id, definitionID uuid.UUID) error {
	s.reviews[id].DefinitionID = &definitionID
	s.identified = true
	if s.cancelAfterIdentify {
		s.reviews[id].State = store.ReviewCancelled
	}
	return nil
}

func (s *fakeSession) SetReviewResult(_ context.Context, id uuid.UUID, state store.ReviewState, result json.RawMessage) error {
	review := s.reviews[id]
	// Only a live review reaches a terminal state, matching the guarded
	// UPDATE.
	if review.State != store.ReviewPending && review.State != store.ReviewProcessing {
		return errsNotFound()
	}
	review.State = state
	review.Result = result
	return nil
}

func (s *fakeSession) CancelPolicyReview(_ context.Context, id uuid.UUID) error {
	review, ok := s.reviews[id]
	if !ok || (review.State != store.ReviewPending && review.State != store.ReviewProcessing) {
		return errsNotFound()
	}
	review.State = store.ReviewCancelled
	return nil
}

func (s *fakeSession) GetPolicyDefinition(_ context.Context, id uuid.UUID) (*store.PolicyDefinition, error) {
	return s.definitions[id], nil
}

func (s *fakeSession) ActivePolicyDefinitions(context.Context) ([]store.PolicyDefinition, error) {
	return s.active, nil
}

func (s *fakeSession) CompletedPolicyReviews(context.Context, time.Time, time.Time) ([]store.PolicyReview, error) {
	return s.completed, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeStore struct{ sess *fakeSession }

func (s *fakeStore) Session(context.Context, uuid.UUID) (Session, error) { return s.sess, nil }

func errsNotFound() error {
	return errs.New(errs.KindNotFound, "review is not pending or processing")
}

func testDefinition(t *testing.T) *store.PolicyDefinition {
	t.Helper()
	compliance, err := json.Marshal([]store.ComplianceCriterion{
		{Name: "fire risk assessments", Priority: "high", Description: "regular fire risk assessments with review cadence"},
		{Name: "resident engagement", Priority: "medium", Description: "residents consulted on safety measures"},
		{Name: "record keeping", Priority: "medium", Description: "assessment records retained"},
	})
	require.NoError(t, err)
	sections, err := json.Marshal([]string{"Scope"})
	require.NoError(t, err)
	return &store.PolicyDefinition{
		ID:               store.NewID(),
		URI:              "policy:fire-safety",
		Name:             "Fire Safety Policy",
		Status:           store.StatusActive,
		RequiredSections: sections,
		Compliance:       compliance,
	}
}

func newTestEngine(t *testing.T, sess *fakeSession, hub *fakeHub, m *fakeModel) *Engine {
	t.Helper()
	engine, err := NewEngine(Options{
		Store:       &fakeStore{sess: sess},
		Hub:         hub,
		Model:       m,
		Search:      &fakeSearcher{},
		Legislation: &fakeLegislation{},
		Workers:     2,
	})
	require.NoError(t, err)
	return engine
}

func TestRunCompletesWithSuppliedDefinition(t *testing.T) {
	sess := newFakeSession()
	def := testDefinition(t)
	sess.definitions[def.ID] = def
	hub := &fakeHub{}
	m := &fakeModel{
		criterionJSON: map[string]string{
			"fire risk assessments": `{"rating": "green", "justification": "cadence defined"}`,
		},
		defaultJSON: `{"rating": "amber", "justification": "partially covered", "recommendations": ["tighten wording"]}`,
		summaryText: "The policy is broadly compliant with minor gaps.",
	}
	engine := newTestEngine(t, sess, hub, m)

	res, err := engine.Run(context.Background(), RunRequest{
		Tenant:       uuid.New(),
		UserID:       uuid.New(),
		DocumentName: "Fire Safety Policy v3",
		DocumentText: "Scope\nThis policy covers fire safety across all schemes.",
		DefinitionID: &def.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	require.Equal(t, RatingAmber, res.Report.Overall)
	require.Len(t, res.Report.Criteria, 3)
	require.Equal(t, "The policy is broadly compliant with minor gaps.", res.Report.Summary)
	require.Empty(t, res.Report.Gaps)
	require.NotEmpty(t, res.Report.Actions)

	review := sess.reviews[res.ReviewID]
	require.Equal(t, store.ReviewComplete, review.State)
	var persisted Report
	require.NoError(t, json.Unmarshal(review.Result, &persisted))
	require.Equal(t, RatingAmber, persisted.Overall)

	require.Equal(t, 1, hub.count(events.EventAgentStart))
	require.Equal(t, 1, hub.count(events.EventAgentComplete))
	require.Equal(t, 1, hub.count(events.EventPolicyReviewComplete))
	require.Equal(t, 3, hub.count(events.EventPolicyReviewCitationProgress))
	require.Equal(t, 1, hub.count(events.EventPolicyReviewCreated))
	// First event on the review channel is the agent start.
	require.Equal(t, events.EventPolicyReviewCreated, hub.published[0].Type())
	require.Equal(t, events.EventAgentStart, hub.published[1].Type())
}

func TestRunGreenReportHasNoRedCriteria(t *testing.T) {
	sess := newFakeSession()
	def := testDefinition(t)
	sess.definitions[def.ID] = def
	hub := &fakeHub{}
	m := &fakeModel{
		defaultJSON: `{"rating": "green", "justification": "satisfied"}`,
		summaryText: "Fully compliant.",
	}
	engine := newTestEngine(t, sess, hub, m)

	res, err := engine.Run(context.Background(), RunRequest{
		Tenant:       uuid.New(),
		UserID:       uuid.New(),
		DocumentName: "Fire Safety Policy",
		DocumentText: "Scope\nEverything in order.",
		DefinitionID: &def.ID,
	})
	require.NoError(t, err)
	require.Equal(t, RatingGreen, res.Report.Overall)
	for _, c := range res.Report.Criteria {
		require.NotEqual(t, RatingRed, c.Rating)
	}
}

func TestRunIdentifiesPolicyType(t *testing.T) {
	sess := newFakeSession()
	def := testDefinition(t)
	sess.definitions[def.ID] = def
	sess.active = []store.PolicyDefinition{*def}
	hub := &fakeHub{}
	m := &fakeModel{
		identifyJSON: `{"matched_uri": "policy:fire-safety", "confidence": 0.92, "reasoning": "title and sections match"}`,
		defaultJSON:  `{"rating": "green", "justification": "fine"}`,
		summaryText:  "ok",
	}
	engine := newTestEngine(t, sess, hub, m)

	res, err := engine.Run(context.Background(), RunRequest{
		Tenant:       uuid.New(),
		UserID:       uuid.New(),
		DocumentName: "fire-policy.pdf",
		DocumentText: "Scope\nFire Safety Policy for all housing stock.",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Report.Identification)
	require.Equal(t, "policy:fire-safety", res.Report.Identification.MatchedURI)
	require.Equal(t, &def.ID, sess.reviews[res.ReviewID].DefinitionID)
}

func TestRunLowIdentificationConfidenceFailsValidation(t *testing.T) {
	sess := newFakeSession()
	def := testDefinition(t)
	sess.active = []store.PolicyDefinition{*def}
	hub := &fakeHub{}
	m := &fakeModel{
		identifyJSON: `{"matched_uri": "policy:fire-safety", "confidence": 0.4}`,
	}
	engine := newTestEngine(t, sess, hub, m)

	res, err := engine.Run(context.Background(), RunRequest{
		Tenant:       uuid.New(),
		UserID:       uuid.New(),
		DocumentName: "mystery.pdf",
		DocumentText: "Unrelated text.",
	})
	require.Error(t, err)

	review := sess.reviews[res.ReviewID]
	require.Equal(t, store.ReviewError, review.State)
	var failure Failure
	require.NoError(t, json.Unmarshal(review.Result, &failure))
	require.Equal(t, CodeValidation, failure.Code)
	require.Equal(t, 1, hub.count(events.EventPolicyReviewFailed))
}

func TestRunCancelledAtStageBoundary(t *testing.T) {
	sess := newFakeSession()
	def := testDefinition(t)
	sess.definitions[def.ID] = def
	sess.active = []store.PolicyDefinition{*def}
	sess.cancelAfterIdentify = true
	hub := &fakeHub{}
	m := &fakeModel{
		identifyJSON: `{"matched_uri": "policy:fire-safety", "confidence": 0.9}`,
		defaultJSON:  `{"rating": "green", "justification": "fine"}`,
	}
	engine := newTestEngine(t, sess, hub, m)

	res, err := engine.Run(context.Background(), RunRequest{
		Tenant:       uuid.New(),
		UserID:       uuid.New(),
		DocumentName: "fire-policy.pdf",
		DocumentText: "Scope\nFire Safety Policy.",
	})
	require.ErrorIs(t, err, ErrCancelled)
	// Cancelled runs record no failure blob and evaluate no criteria.
	require.Equal(t, store.ReviewCancelled, sess.reviews[res.ReviewID].State)
	require.Zero(t, hub.count(events.EventPolicyReviewCitationProgress))
	require.Zero(t, hub.count(events.EventPolicyReviewFailed))
}

func TestRunCancelledDuringSummaryStaysCancelled(t *testing.T) {
	sess := newFakeSession()
	def := testDefinition(t)
	sess.definitions[def.ID] = def
	hub := &fakeHub{}
	m := &fakeModel{
		defaultJSON: `{"rating": "green", "justification": "fine"}`,
		summaryText: "never persisted",
	}
	m.onSummary = func() {
		for _, review := range sess.reviews {
			review.State = store.ReviewCancelled
		}
	}
	engine := newTestEngine(t, sess, hub, m)

	res, err := engine.Run(context.Background(), RunRequest{
		Tenant:       uuid.New(),
		UserID:       uuid.New(),
		DocumentName: "fire-policy.pdf",
		DocumentText: "Scope\nFire Safety Policy.",
		DefinitionID: &def.ID,
	})
	require.ErrorIs(t, err, ErrCancelled)

	// The cancel stays on the row: no complete state, no result blob, no
	// completion event.
	review := sess.reviews[res.ReviewID]
	require.Equal(t, store.ReviewCancelled, review.State)
	require.Empty(t, review.Result)
	require.Zero(t, hub.count(events.EventPolicyReviewComplete))
	require.Zero(t, hub.count(events.EventPolicyReviewFailed))
}

func TestCancelIgnoredForTerminalReview(t *testing.T) {
	sess := newFakeSession()
	review := &store.PolicyReview{ID: store.NewID(), State: store.ReviewComplete}
	sess.reviews[review.ID] = review
	hub := &fakeHub{}
	engine := newTestEngine(t, sess, hub, &fakeModel{})

	require.NoError(t, engine.Cancel(context.Background(), uuid.New(), review.ID))
	require.Equal(t, store.ReviewComplete, review.State)
}

func TestCancelPublishesStatus(t *testing.T) {
	sess := newFakeSession()
	review := &store.PolicyReview{ID: store.NewID(), State: store.ReviewProcessing}
	sess.reviews[review.ID] = review
	hub := &fakeHub{}
	engine := newTestEngine(t, sess, hub, &fakeModel{})

	require.NoError(t, engine.Cancel(context.Background(), uuid.New(), review.ID))
	require.Equal(t, store.ReviewCancelled, review.State)
	require.Equal(t, 1, hub.count(events.EventPolicyReviewStatus))
}

func TestMapFailureCodes(t *testing.T) {
	code, _ := MapFailure(context.DeadlineExceeded)
	require.Equal(t, CodeTimeout, code)

	code, msg := MapFailure(errs.New(errs.KindValidation, "no matching definition"))
	require.Equal(t, CodeValidation, code)
	require.Contains(t, msg, "no matching definition")

	code, msg = MapFailure(errors.New("boom"))
	require.Equal(t, CodeInternal, code)
	require.NotContains(t, msg, "boom")
}
