package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type (
	// ConversationState tracks the lifecycle of a conversation.
	ConversationState string

	// MessageRole distinguishes user turns from assistant turns.
	MessageRole string

	// MessageState tracks assistant message production.
	MessageState string

	// InvocationState tracks a background agent invocation.
	InvocationState string

	// ReviewState tracks a background policy review.
	ReviewState string

	// DocumentState tracks the ingestion pipeline position of a document.
	DocumentState string

	// ConfidenceLevel is the scored trust level of an assistant answer.
	ConfidenceLevel string
)

const (
	ConversationPending   ConversationState = "pending"
	ConversationReady     ConversationState = "ready"
	ConversationCancelled ConversationState = "cancelled"
	ConversationError     ConversationState = "error"

	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"

	MessagePending   MessageState = "pending"
	MessageStreaming MessageState = "streaming"
	MessageComplete  MessageState = "complete"
	MessageCancelled MessageState = "cancelled"
	MessageError     MessageState = "error"

	InvocationPending   InvocationState = "pending"
	InvocationRunning   InvocationState = "running"
	InvocationComplete  InvocationState = "complete"
	InvocationCancelled InvocationState = "cancelled"
	InvocationError     InvocationState = "error"

	ReviewPending    ReviewState = "pending"
	ReviewProcessing ReviewState = "processing"
	ReviewComplete   ReviewState = "complete"
	ReviewCancelled  ReviewState = "cancelled"
	ReviewError      ReviewState = "error"

	DocumentUploaded        DocumentState = "uploaded"
	DocumentValidating      DocumentState = "validating"
	DocumentExtracting      DocumentState = "extracting"
	DocumentChunking        DocumentState = "chunking"
	DocumentContextualising DocumentState = "contextualising"
	DocumentEmbedding       DocumentState = "embedding"
	DocumentIndexing        DocumentState = "indexing"
	DocumentReady           DocumentState = "ready"
	DocumentFailed          DocumentState = "failed"

	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// MaxProcessingRetries is how many consecutive failures a document absorbs
// before it is dead-lettered.
const MaxProcessingRetries = 3

type (
	// Conversation is owned by one user within one tenant. Soft-deleted via
	// DeletedAt; messages cascade on hard delete only.
	Conversation struct {
		ID         uuid.UUID         `db:"id"`
		TenantID   uuid.UUID         `db:"tenant_id"`
		UserID     uuid.UUID         `db:"user_id"`
		Title      *string           `db:"title"`
		State      ConversationState `db:"state"`
		TemplateID *uuid.UUID        `db:"template_id"`
		CreatedAt  time.Time         `db:"created_at"`
		UpdatedAt  time.Time         `db:"updated_at"`
		DeletedAt  *time.Time        `db:"deleted_at"`
	}

	// Message belongs to one conversation. Content is immutable once State
	// is terminal; Confidence and Verification are set together during
	// assistant finalisation.
	Message struct {
		ID             uuid.UUID        `db:"id"`
		TenantID       uuid.UUID        `db:"tenant_id"`
		ConversationID uuid.UUID        `db:"conversation_id"`
		Role           MessageRole      `db:"role"`
		Content        string           `db:"content"`
		State          MessageState     `db:"state"`
		Confidence     *ConfidenceLevel `db:"confidence"`
		Verification   json.RawMessage  `db:"verification"`
		CreatedAt      time.Time        `db:"created_at"`
		UpdatedAt      time.Time        `db:"updated_at"`
	}

	// AgentInvocation is one record per user query.
	AgentInvocation struct {
		ID             uuid.UUID       `db:"id"`
		TenantID       uuid.UUID       `db:"tenant_id"`
		ConversationID uuid.UUID       `db:"conversation_id"`
		Mode           string          `db:"mode"`
		Query          string          `db:"query"`
		PersonaID      *uuid.UUID      `db:"persona_id"`
		State          InvocationState `db:"state"`
		ModelID        string          `db:"model_id"`
		CacheHit       bool            `db:"cache_hit"`
		CreatedAt      time.Time       `db:"created_at"`
		UpdatedAt      time.Time       `db:"updated_at"`
	}

	// Persona is a tenant-scoped prompt augmentation.
	Persona struct {
		ID           uuid.UUID `db:"id"`
		TenantID     uuid.UUID `db:"tenant_id"`
		Name         string    `db:"name"`
		Description  string    `db:"description"`
		Instructions string    `db:"instructions"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}

	// SemanticCacheEntry maps a query embedding to a previously computed
	// response. Live while CreatedAt+TTL is in the future.
	SemanticCacheEntry struct {
		ID        uuid.UUID       `db:"id"`
		TenantID  uuid.UUID       `db:"tenant_id"`
		Query     string          `db:"query"`
		Embedding pgvector.Vector `db:"embedding"`
		Response  string          `db:"response"`
		Sources   json.RawMessage `db:"sources"`
		TTL       time.Duration   `db:"ttl"`
		Hits      int             `db:"hits"`
		CreatedAt time.Time       `db:"created_at"`
	}

	// CacheMatch is a cache entry paired with its similarity to the probe.
	CacheMatch struct {
		SemanticCacheEntry
		Similarity float64 `db:"similarity"`
	}

	// KnowledgeBase is a tenant-scoped document container.
	KnowledgeBase struct {
		ID         uuid.UUID `db:"id"`
		TenantID   uuid.UUID `db:"tenant_id"`
		Name       string    `db:"name"`
		Category   string    `db:"category"`
		SourceType string    `db:"source_type"`
		CreatedAt  time.Time `db:"created_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	// Document belongs to one knowledge base. Versions form a linear chain
	// through PreviousVersionID.
	Document struct {
		ID                uuid.UUID     `db:"id"`
		TenantID          uuid.UUID     `db:"tenant_id"`
		KnowledgeBaseID   uuid.UUID     `db:"knowledge_base_id"`
		Name              string        `db:"name"`
		BlobRef           string        `db:"blob_ref"`
		ContentType       string        `db:"content_type"`
		SizeBytes         int64         `db:"size_bytes"`
		ContentHash       string        `db:"content_hash"`
		State             DocumentState `db:"state"`
		Version           int           `db:"version"`
		PreviousVersionID *uuid.UUID    `db:"previous_version_id"`
		RetryCount        int           `db:"retry_count"`
		DeadLetter        bool          `db:"dead_letter"`
		LastError         *string       `db:"last_error"`
		CreatedAt         time.Time     `db:"created_at"`
		UpdatedAt         time.Time     `db:"updated_at"`
	}

	// DocumentChunk is one indexed slice of a document.
	DocumentChunk struct {
		ID             uuid.UUID `db:"id"`
		TenantID       uuid.UUID `db:"tenant_id"`
		DocumentID     uuid.UUID `db:"document_id"`
		Content        string    `db:"content"`
		ContextPrefix  *string   `db:"context_prefix"`
		Ordinal        int       `db:"ordinal"`
		ByteStart      *int64    `db:"byte_start"`
		ByteEnd        *int64    `db:"byte_end"`
		EmbeddingModel *string   `db:"embedding_model"`
		CreatedAt      time.Time `db:"created_at"`
	}

	// PolicyDefinitionGroup and PolicyDefinitionTopic are tenant-scoped
	// labels; a definition optionally belongs to one group and many topics.
	PolicyDefinitionGroup struct {
		ID        uuid.UUID `db:"id"`
		TenantID  uuid.UUID `db:"tenant_id"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}

	PolicyDefinitionTopic struct {
		ID        uuid.UUID `db:"id"`
		TenantID  uuid.UUID `db:"tenant_id"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}

	// ComplianceCriterion is one obligation a policy must satisfy.
	ComplianceCriterion struct {
		Name        string `json:"name"`
		Priority    string `json:"priority"` // high | medium | low
		Description string `json:"description"`
		Type        string `json:"type"`
	}

	// ScoringCriterion carries the textual rating thresholds for one axis.
	ScoringCriterion struct {
		Name  string `json:"name"`
		Green string `json:"green"`
		Amber string `json:"amber"`
		Red   string `json:"red"`
	}

	// PolicyDefinition describes what a compliant policy of a given type
	// must contain. Unique by (tenant, URI).
	PolicyDefinition struct {
		ID               uuid.UUID       `db:"id"`
		TenantID         uuid.UUID       `db:"tenant_id"`
		URI              string          `db:"uri"`
		Name             string          `db:"name"`
		NameVariants     json.RawMessage `db:"name_variants"` // []string
		Status           EntityStatus    `db:"status"`
		GroupID          *uuid.UUID      `db:"group_id"`
		RequiredSections json.RawMessage `db:"required_sections"` // []string
		Compliance       json.RawMessage `db:"compliance"`        // []ComplianceCriterion
		Scoring          json.RawMessage `db:"scoring"`           // []ScoringCriterion
		Legislation      json.RawMessage `db:"legislation"`       // []string
		ReviewCycle      string          `db:"review_cycle"`
		CreatedAt        time.Time       `db:"created_at"`
		UpdatedAt        time.Time       `db:"updated_at"`
	}

	// PolicyReview is one background review of an uploaded policy document.
	PolicyReview struct {
		ID           uuid.UUID       `db:"id"`
		TenantID     uuid.UUID       `db:"tenant_id"`
		UserID       uuid.UUID       `db:"user_id"`
		DefinitionID *uuid.UUID      `db:"definition_id"`
		State        ReviewState     `db:"state"`
		Result       json.RawMessage `db:"result"`
		Version      int             `db:"version"`
		CreatedAt    time.Time       `db:"created_at"`
		UpdatedAt    time.Time       `db:"updated_at"`
	}
)

// NameVariantList decodes the definition's fuzzy-match name variants.
func (d *PolicyDefinition) NameVariantList() []string {
	return decodeStrings(d.NameVariants)
}

// RequiredSectionList decodes the definition's required sections.
func (d *PolicyDefinition) RequiredSectionList() []string {
	return decodeStrings(d.RequiredSections)
}

// ComplianceCriteria decodes the definition's compliance criteria.
func (d *PolicyDefinition) ComplianceCriteria() ([]ComplianceCriterion, error) {
	if len(d.Compliance) == 0 {
		return nil, nil
	}
	var out []ComplianceCriterion
	if err := json.Unmarshal(d.Compliance, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ScoringCriteria decodes the definition's scoring criteria.
func (d *PolicyDefinition) ScoringCriteria() ([]ScoringCriterion, error) {
	if len(d.Scoring) == 0 {
		return nil, nil
	}
	var out []ScoringCriterion
	if err := json.Unmarshal(d.Scoring, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if json.Unmarshal(raw, &out) != nil {
		return nil
	}
	return out
}

// Live reports whether the cache entry has not expired at the given instant.
func (e *SemanticCacheEntry) Live(now time.Time) bool {
	return e.CreatedAt.Add(e.TTL).After(now)
}
