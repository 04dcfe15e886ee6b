package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/crypto"
	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Resolver resolves a tenant's provider credentials, decrypting secrets
// transparently at the point of use.
type Resolver struct {
	store   *Store
	tenants *tenant.Store
	cipher  *crypto.Cipher
}

// NewResolver creates a credential Resolver.
func NewResolver(dbtx db.DBTX, cipher *crypto.Cipher) *Resolver {
	return &Resolver{
		store:   NewStore(dbtx),
		tenants: tenant.NewStore(dbtx),
		cipher:  cipher,
	}
}

// AccessToken returns the decrypted access token of the tenant's active
// default credential for the provider. A decryption failure surfaces as
// ErrNotConfigured: the operation fails, ciphertext never leaks.
func (r *Resolver) AccessToken(ctx context.Context, tenantID uuid.UUID, provider string) (string, error) {
	c, err := r.store.GetDefault(ctx, tenantID, provider)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotConfigured
		}
		return "", fmt.Errorf("loading credential: %w", err)
	}
	if c.AccessToken == "" {
		return "", ErrNotConfigured
	}

	token, err := r.cipher.DecryptIfEncrypted(c.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: secret unreadable", ErrNotConfigured)
	}
	return token, nil
}

// Channel bundles what an outbound Graph API call needs.
type Channel struct {
	Token         string
	PhoneNumberID string
}

// WhatsAppChannel resolves the tenant's default WhatsApp credential into a
// ready-to-use outbound channel.
func (r *Resolver) WhatsAppChannel(ctx context.Context, tenantID uuid.UUID) (Channel, error) {
	c, err := r.store.GetDefault(ctx, tenantID, ProviderWhatsApp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, ErrNotConfigured
		}
		return Channel{}, fmt.Errorf("loading credential: %w", err)
	}
	if c.AccessToken == "" || c.PhoneNumberID == "" {
		return Channel{}, ErrNotConfigured
	}
	token, err := r.cipher.DecryptIfEncrypted(c.AccessToken)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: secret unreadable", ErrNotConfigured)
	}
	return Channel{Token: token, PhoneNumberID: c.PhoneNumberID}, nil
}

// AppSecret returns the decrypted app secret for a credential row. Used for
// webhook signature verification, where the credential is addressed directly.
func (r *Resolver) AppSecret(c Credential) (string, error) {
	if c.AppSecret == "" {
		return "", ErrNotConfigured
	}
	secret, err := r.cipher.DecryptIfEncrypted(c.AppSecret)
	if err != nil {
		return "", fmt.Errorf("%w: secret unreadable", ErrNotConfigured)
	}
	return secret, nil
}

// Setting reads one value from the tenant's nested settings bag
// (category → key), decrypting tagged values.
func (r *Resolver) Setting(ctx context.Context, tenantID uuid.UUID, category, key string) (string, error) {
	t, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("loading tenant: %w", err)
	}
	if len(t.Settings) == 0 {
		return "", ErrNotConfigured
	}

	var bag map[string]map[string]string
	if err := json.Unmarshal(t.Settings, &bag); err != nil {
		return "", fmt.Errorf("parsing tenant settings: %w", err)
	}

	value, ok := bag[category][key]
	if !ok || value == "" {
		return "", ErrNotConfigured
	}

	plain, err := r.cipher.DecryptIfEncrypted(value)
	if err != nil {
		return "", fmt.Errorf("%w: setting unreadable", ErrNotConfigured)
	}
	return plain, nil
}

// Encrypt seals a secret for storage. Exposed so handlers encrypt on write.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	return r.cipher.Encrypt(plaintext)
}

// Store returns the underlying credential store.
func (r *Resolver) Store() *Store {
	return r.store
}
