package agreement

import (
	"context"
	"errors"

	"tradeflow/address"
	"tradeflow/apperr"
	"tradeflow/ledger"
	"tradeflow/payload"
)

// DeploymentSource returns the deploy extras recorded for an agreement, or
// ErrAgreementNotFound while it is pending.
type DeploymentSource interface {
	Deployment(ctx context.Context, id string) (payload.Deploy, error)
}

// LedgerDeployments reads deployment parties from the contract itself.
type LedgerDeployments struct {
	Reader ledger.DeploymentReader
}

func (l LedgerDeployments) Deployment(ctx context.Context, id string) (payload.Deploy, error) {
	p, err := l.Reader.Deployment(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotDeployed) {
			return payload.Deploy{}, ErrAgreementNotFound
		}
		return payload.Deploy{}, err
	}
	return payload.Deploy{Primary: p.Primary, Counterparty: p.Counterparty, Logistics: p.Logistics}, nil
}

// RoleResolver maps an agreement to its party addresses and authorizes actors.
// Sources are consulted in order; a source that has no deployment defers to
// the next one.
type RoleResolver struct {
	sources []DeploymentSource
	admins  *address.Set
}

func NewRoleResolver(admins *address.Set, sources ...DeploymentSource) *RoleResolver {
	if admins == nil {
		admins = address.NewSet()
	}
	return &RoleResolver{sources: sources, admins: admins}
}

// Resolve returns the canonical roles of agreementID.
func (r *RoleResolver) Resolve(ctx context.Context, agreementID string) (Roles, error) {
	id := address.Checksum(agreementID)
	var lastErr error
	for _, src := range r.sources {
		d, err := src.Deployment(ctx, id)
		if err == nil {
			return rolesFrom(d), nil
		}
		if !errors.Is(err, ErrAgreementNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return Roles{}, apperr.Wrap(apperr.KindRolesUnavailable, lastErr, "roles for %s could not be read", id)
	}
	return Roles{}, apperr.New(apperr.KindRolesUnavailable, "agreement %s has no deployment yet", id)
}

// Authorize reports whether actor may act on agreementID. Administrators are
// authorized without a role lookup; an empty actor never is.
func (r *RoleResolver) Authorize(ctx context.Context, agreementID, actor string) (bool, error) {
	if address.Key(actor) == "" {
		return false, nil
	}
	if r.IsAdmin(actor) {
		return true, nil
	}
	roles, err := r.Resolve(ctx, agreementID)
	if err != nil {
		return false, err
	}
	return r.Allows(roles, actor), nil
}

// Allows reports whether actor is the primary, counterparty or logistics
// party, or an administrator. Insurance and inspector roles are informational.
func (r *RoleResolver) Allows(roles Roles, actor string) bool {
	if address.Key(actor) == "" {
		return false
	}
	if r.IsAdmin(actor) {
		return true
	}
	for _, party := range []string{roles.Primary, roles.Counterparty, roles.Logistics} {
		if address.Equal(party, actor) {
			return true
		}
	}
	return false
}

func (r *RoleResolver) IsAdmin(actor string) bool {
	return r.admins.Contains(actor)
}

// Admins returns the configured administrator set.
func (r *RoleResolver) Admins() *address.Set {
	return r.admins
}

func rolesFrom(d payload.Deploy) Roles {
	return Roles{
		Primary:      canonical(d.Primary),
		Counterparty: canonical(d.Counterparty),
		Logistics:    canonical(d.Logistics),
		Insurance:    canonical(d.Insurance),
		Inspector:    canonical(d.Inspector),
	}
}

func canonical(a string) string {
	c := address.Checksum(a)
	if c == "0x0000000000000000000000000000000000000000" {
		return ""
	}
	return c
}
