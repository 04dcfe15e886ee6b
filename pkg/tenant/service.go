package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/coverdesk/coverdesk/internal/db"
)

// ErrTrialExpired is returned when a trial tenant's trial period has lapsed.
// The tenant is suspended as a side effect of the check that discovers it.
var ErrTrialExpired = errors.New("trial period has expired")

// ErrTenantInactive is returned for suspended or cancelled tenants.
var ErrTenantInactive = errors.New("tenant is not active")

// lifecycleStore is the subset of Store the service needs; an interface so
// tests can simulate trial expiry without a database.
type lifecycleStore interface {
	Create(ctx context.Context, name, subdomain string, trialEndsAt time.Time) (Tenant, error)
	CreateUser(ctx context.Context, tenantID uuid.UUID, email, passwordHash, displayName, role string) (User, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Service implements the tenant lifecycle.
type Service struct {
	store  lifecycleStore
	logger *slog.Logger

	// now is swapped in tests to simulate trial expiry.
	now func() time.Time
}

// NewService creates a tenant Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{
		store:  NewStore(dbtx),
		logger: logger,
		now:    time.Now,
	}
}

// Signup creates a tenant in trial status together with its admin user.
func (s *Service) Signup(ctx context.Context, req SignupRequest, trialDuration time.Duration) (SignupResponse, error) {
	t, err := s.store.Create(ctx, req.Name, req.Subdomain, s.now().Add(trialDuration))
	if err != nil {
		return SignupResponse{}, fmt.Errorf("creating tenant: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return SignupResponse{}, fmt.Errorf("hashing password: %w", err)
	}

	admin, err := s.store.CreateUser(ctx, t.ID, req.AdminEmail, string(hash), req.AdminName, RoleAdmin)
	if err != nil {
		return SignupResponse{}, fmt.Errorf("creating admin user: %w", err)
	}

	s.logger.Info("tenant signed up",
		"tenant_id", t.ID, "subdomain", t.Subdomain, "trial_ends_at", t.TrialEndsAt)

	return SignupResponse{Tenant: t, Admin: admin}, nil
}

// CheckActive verifies a tenant may serve traffic. A trial tenant whose
// trial has lapsed is transitioned to suspended here, so expiry takes
// effect on the next inbound request rather than needing a sweeper.
func (s *Service) CheckActive(ctx context.Context, id uuid.UUID) (Tenant, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Tenant{}, fmt.Errorf("loading tenant: %w", err)
	}

	switch t.Status {
	case StatusActive:
		return t, nil
	case StatusTrial:
		if s.now().After(t.TrialEndsAt) {
			if err := s.store.UpdateStatus(ctx, t.ID, StatusSuspended); err != nil {
				return Tenant{}, fmt.Errorf("suspending expired trial: %w", err)
			}
			s.logger.Info("trial expired, tenant suspended", "tenant_id", t.ID)
			return Tenant{}, ErrTrialExpired
		}
		return t, nil
	default:
		return Tenant{}, ErrTenantInactive
	}
}

// Activate moves a tenant from trial (or suspended, after payment) to active.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	return s.store.UpdateStatus(ctx, id, StatusActive)
}

// Cancel permanently cancels a tenant. Reachable from any status.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.store.UpdateStatus(ctx, id, StatusCancelled)
}
