package events

import (
	"fmt"
	"strings"
)

// Scope identifies the resource family a channel carries events for.
type Scope string

const (
	// ScopeConversation carries the live assistant stream for one conversation.
	ScopeConversation Scope = "conversation"
	// ScopePolicyReview carries progress for one policy review job.
	ScopePolicyReview Scope = "policy-review"
	// ScopeUser carries push notifications addressed to one user.
	ScopeUser Scope = "user"
)

// Channel identifies a tenant-scoped event stream. Isolation is absolute:
// every derived key (replay store, broadcast topic) embeds the tenant so no
// consumer of tenant A can observe tenant B's events for the same resource.
type Channel struct {
	// Tenant is the owning tenant identifier. Required.
	Tenant string
	// Scope is the resource family. Required.
	Scope Scope
	// Resource is the scoped resource identifier (conversation id, review id,
	// user id). Required.
	Resource string
}

// NewChannel builds a validated channel.
func NewChannel(tenant string, scope Scope, resource string) (Channel, error) {
	ch := Channel{Tenant: tenant, Scope: scope, Resource: resource}
	if err := ch.Validate(); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// Validate checks that all channel components are present and well-formed.
// Components must not contain the ':' separator used in derived keys.
func (c Channel) Validate() error {
	if c.Tenant == "" {
		return fmt.Errorf("events: channel tenant is required")
	}
	switch c.Scope {
	case ScopeConversation, ScopePolicyReview, ScopeUser:
	default:
		return fmt.Errorf("events: unknown channel scope %q", c.Scope)
	}
	if c.Resource == "" {
		return fmt.Errorf("events: channel resource is required")
	}
	for _, part := range []string{c.Tenant, c.Resource} {
		if strings.ContainsRune(part, ':') {
			return fmt.Errorf("events: channel component %q must not contain ':'", part)
		}
	}
	return nil
}

// Key returns the opaque channel identifier used to namespace both the replay
// store and the broadcast topic.
func (c Channel) Key() string {
	return fmt.Sprintf("events:%s:%s:%s", c.Tenant, c.Scope, c.Resource)
}
