package graph

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/model"
)

// CredentialBuilder produces a token credential for one tenant. The default
// uses azidentity client-credential flows; tests substitute static tokens.
type CredentialBuilder func(directoryTenantID string, creds model.Credentials, certDir string) (azcore.TokenCredential, string, error)

// Factory builds and caches authenticated Graph clients per tenant. The cache
// is process-local; entries are keyed by (tenantID, directoryTenantID) and
// evicted lazily when token refresh fails inside the client.
type Factory struct {
	certDir    string
	clientOpts *ClientOptions
	build      CredentialBuilder

	mu    sync.Mutex
	cache map[cacheKey]*Client
}

type cacheKey struct {
	tenantID          uuid.UUID
	directoryTenantID string
}

// FactoryOptions tunes a Factory.
type FactoryOptions struct {
	// CertDir holds the default app.key / app.crt PEM pair used when a
	// tenant's certificate credentials carry no explicit paths.
	CertDir string

	// ClientOptions is passed through to every built client.
	ClientOptions *ClientOptions

	// CredentialBuilder overrides token acquisition (tests).
	CredentialBuilder CredentialBuilder
}

// NewFactory constructs a Factory.
func NewFactory(opts FactoryOptions) *Factory {
	f := &Factory{
		certDir:    opts.CertDir,
		clientOpts: opts.ClientOptions,
		build:      opts.CredentialBuilder,
		cache:      make(map[cacheKey]*Client),
	}
	if f.certDir == "" {
		f.certDir = "certs"
	}
	if f.build == nil {
		f.build = buildCredential
	}
	return f
}

// Client returns an authenticated Graph client for the tenant, building and
// caching one on first use.
func (f *Factory) Client(tenant model.Tenant) (*Client, error) {
	key := cacheKey{tenantID: tenant.ID, directoryTenantID: tenant.DirectoryTenantID}

	f.mu.Lock()
	if c, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()

	cred, thumbprint, err := f.build(tenant.DirectoryTenantID, tenant.Credentials, f.certDir)
	if err != nil {
		return nil, err
	}

	c := NewClient(tenant.DirectoryTenantID, cred, f.clientOpts)
	c.Thumbprint = thumbprint

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.cache[key]; ok {
		return existing, nil
	}
	f.cache[key] = c
	log.Debug().
		Str("tenantId", tenant.ID.String()).
		Str("directoryTenantId", tenant.DirectoryTenantID).
		Str("credentialKind", string(tenant.Credentials.Kind())).
		Msg("graph client created")
	return c, nil
}

// Evict drops a cached client, forcing a rebuild on next use.
func (f *Factory) Evict(tenantID uuid.UUID, directoryTenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, cacheKey{tenantID: tenantID, directoryTenantID: directoryTenantID})
}

// buildCredential runs the azidentity client-credentials flow. Certificate
// auth reads the PEM pair, validates both blocks, and reports the SHA-1
// thumbprint of the leaf certificate.
func buildCredential(directoryTenantID string, creds model.Credentials, certDir string) (azcore.TokenCredential, string, error) {
	if creds.ClientID == "" {
		return nil, "", &AuthError{Cause: CauseTokenRejected, Err: fmt.Errorf("missing client id")}
	}

	if creds.Kind() == model.CredentialSecret {
		if creds.ClientSecret == "" {
			return nil, "", &AuthError{Cause: CauseTokenRejected, Err: fmt.Errorf("missing client secret")}
		}
		cred, err := azidentity.NewClientSecretCredential(directoryTenantID, creds.ClientID, creds.ClientSecret, nil)
		if err != nil {
			return nil, "", classifyAuthErr(err)
		}
		return cred, "", nil
	}

	certs, key, thumbprint, err := loadCertificate(creds, certDir)
	if err != nil {
		return nil, "", err
	}
	opts := &azidentity.ClientCertificateCredentialOptions{
		// x5c header: send the full chain so Entra can match rotated certs.
		SendCertificateChain: true,
	}
	cred, err := azidentity.NewClientCertificateCredential(directoryTenantID, creds.ClientID, certs, key, opts)
	if err != nil {
		return nil, "", classifyAuthErr(err)
	}
	return cred, thumbprint, nil
}

// loadCertificate reads the certificate and private key PEM files and
// computes the uppercase SHA-1 thumbprint of the DER certificate bytes.
func loadCertificate(creds model.Credentials, certDir string) ([]*x509.Certificate, crypto.PrivateKey, string, error) {
	certPath := creds.CertificatePath
	keyPath := creds.PrivateKeyPath
	if certPath == "" {
		certPath = filepath.Join(certDir, "app.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(certDir, "app.key")
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, "", &AuthError{Cause: CauseCertificateInvalid, Err: fmt.Errorf("read certificate: %w", err)}
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, "", &AuthError{Cause: CauseCertificateInvalid, Err: fmt.Errorf("read private key: %w", err)}
	}

	if block, _ := pem.Decode(certPEM); block == nil {
		return nil, nil, "", &AuthError{Cause: CauseCertificateInvalid, Err: fmt.Errorf("malformed certificate PEM: %s", certPath)}
	}
	if block, _ := pem.Decode(keyPEM); block == nil {
		return nil, nil, "", &AuthError{Cause: CauseCertificateInvalid, Err: fmt.Errorf("malformed private key PEM: %s", keyPath)}
	}

	certs, key, err := azidentity.ParseCertificates(append(append([]byte{}, certPEM...), keyPEM...), nil)
	if err != nil {
		return nil, nil, "", &AuthError{Cause: CauseCertificateInvalid, Err: err}
	}
	if len(certs) == 0 {
		return nil, nil, "", &AuthError{Cause: CauseCertificateInvalid, Err: fmt.Errorf("no certificate in %s", certPath)}
	}

	sum := sha1.Sum(certs[0].Raw)
	thumbprint := strings.ToUpper(hex.EncodeToString(sum[:]))
	return certs, key, thumbprint, nil
}
