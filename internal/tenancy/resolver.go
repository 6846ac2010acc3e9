package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrTenantNotFound is returned when no strategy identifies the clinic.
var ErrTenantNotFound = errors.New("tenancy: tenant not found")

var tracer = otel.Tracer("clinicai.internal.tenancy")

// TenantStore is the subset of the clinic repository the resolver needs.
type TenantStore interface {
	TenantByInboundNumber(ctx context.Context, number string) (*clinic.Tenant, error)
	TenantByClientHistory(ctx context.Context, phone string) (*clinic.Tenant, error)
	TenantByID(ctx context.Context, tenantID string) (*clinic.Tenant, error)
}

// Resolver identifies the tenant of an inbound message.
type Resolver struct {
	store           TenantStore
	defaultTenantID string
	logger          *logging.Logger
}

// NewResolver builds a resolver. defaultTenantID may be empty.
func NewResolver(store TenantStore, defaultTenantID string, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("tenancy: tenant store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		store:           store,
		defaultTenantID: strings.TrimSpace(defaultTenantID),
		logger:          logger,
	}
}

// Resolve tries the destination number, then the sender's most recent client
// row, then the configured default tenant.
func (r *Resolver) Resolve(ctx context.Context, inboundNumber, senderPhone string) (*clinic.Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenancy.resolve")
	defer span.End()

	if strings.TrimSpace(inboundNumber) != "" {
		tenant, err := r.store.TenantByInboundNumber(ctx, inboundNumber)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("clinicai.tenant_id", tenant.ID), attribute.String("clinicai.tenant_source", "inbound_number"))
			return tenant, nil
		case !errors.Is(err, clinic.ErrNotFound):
			r.logger.Warn("tenant lookup by inbound number failed", "error", err)
		}
	}

	if strings.TrimSpace(senderPhone) != "" {
		tenant, err := r.store.TenantByClientHistory(ctx, senderPhone)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("clinicai.tenant_id", tenant.ID), attribute.String("clinicai.tenant_source", "client_history"))
			return tenant, nil
		case !errors.Is(err, clinic.ErrNotFound):
			r.logger.Warn("tenant lookup by client history failed", "phone", logging.MaskPhone(senderPhone), "error", err)
		}
	}

	if r.defaultTenantID != "" {
		tenant, err := r.store.TenantByID(ctx, r.defaultTenantID)
		if err == nil {
			span.SetAttributes(attribute.String("clinicai.tenant_id", tenant.ID), attribute.String("clinicai.tenant_source", "default"))
			return tenant, nil
		}
		if !errors.Is(err, clinic.ErrNotFound) {
			return nil, fmt.Errorf("tenancy: load default tenant: %w", err)
		}
	}
	return nil, ErrTenantNotFound
}
