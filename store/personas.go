package store

import (
	"context"

	"github.com/google/uuid"
)

// CreatePersona stores a tenant-scoped prompt augmentation.
func (sn *Session) CreatePersona(ctx context.Context, name, description, instructions string) (*Persona, error) {
	now := sn.now()
	p := &Persona{
		ID:           NewID(),
		TenantID:     sn.tenant,
		Name:         name,
		Description:  description,
		Instructions: instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	const q = `INSERT INTO personas (id, tenant_id, name, description, instructions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err := sn.conn.ExecContext(ctx, q, p.ID, p.TenantID, p.Name, p.Description, p.Instructions, now); err != nil {
		return nil, wrapQueryErr("create persona", err)
	}
	return p, nil
}

// GetPersona loads a persona by identifier.
func (sn *Session) GetPersona(ctx context.Context, id uuid.UUID) (*Persona, error) {
	const q = `SELECT id, tenant_id, name, description, instructions, created_at, updated_at
		FROM personas WHERE id = $1 AND tenant_id = $2`
	var p Persona
	if err := sn.conn.GetContext(ctx, &p, q, id, sn.tenant); err != nil {
		return nil, wrapQueryErr("get persona", err)
	}
	return &p, nil
}

// ListPersonas returns the tenant's personas in creation order.
func (sn *Session) ListPersonas(ctx context.Context) ([]Persona, error) {
	const q = `SELECT id, tenant_id, name, description, instructions, created_at, updated_at
		FROM personas WHERE tenant_id = $1 ORDER BY id ASC`
	var out []Persona
	if err := sn.conn.SelectContext(ctx, &out, q, sn.tenant); err != nil {
		return nil, wrapQueryErr("list personas", err)
	}
	return out, nil
}

// UpdatePersona replaces the persona's mutable fields.
func (sn *Session) UpdatePersona(ctx context.Context, id uuid.UUID, name, description, instructions string) error {
	const q = `UPDATE personas SET name = $1, description = $2, instructions = $3, updated_at = $4
		WHERE id = $5 AND tenant_id = $6`
	res, err := sn.conn.ExecContext(ctx, q, name, description, instructions, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("update persona", err)
	}
	return requireRow(res, "update persona")
}

// DeletePersona removes the persona. Invocations keep their dangling
// reference; the persona id on an invocation is historical record only.
func (sn *Session) DeletePersona(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM personas WHERE id = $1 AND tenant_id = $2`
	res, err := sn.conn.ExecContext(ctx, q, id, sn.tenant)
	if err != nil {
		return wrapQueryErr("delete persona", err)
	}
	return requireRow(res, "delete persona")
}
