// Package acme issues and renews TLS certificates through an ACME
// directory using lego. Accounts and issued certificates persist under
// a storage directory so restarts reuse the existing registration.
package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/parrishsteve/splatcast/errors"
)

// File names under Config.StoragePath.
const (
	accountFile    = "account.json"
	accountKeyFile = "account.key"
	certFile       = "certificate.pem"
	certKeyFile    = "certificate.key"
)

const defaultRenewBefore = 8 * time.Hour

// Config holds the ACME directory, identity, and storage settings.
type Config struct {
	DirectoryURL  string
	Email         string
	Domains       []string
	ChallengeType string
	RenewBefore   time.Duration
	StoragePath   string
	CABundle      string
}

// Validate reports the first missing or malformed field. A
// non-positive RenewBefore is replaced with the default rather than
// rejected.
func (c *Config) Validate() error {
	if c.DirectoryURL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("directory_url is required"),
			"acme.Config", "Validate", "check directory URL")
	}
	if c.Email == "" {
		return errors.WrapInvalid(
			fmt.Errorf("email is required"),
			"acme.Config", "Validate", "check email")
	}
	if len(c.Domains) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("at least one domain is required"),
			"acme.Config", "Validate", "check domains")
	}
	switch c.ChallengeType {
	case "", "http-01", "tls-alpn-01":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("challenge_type must be 'http-01' or 'tls-alpn-01'"),
			"acme.Config", "Validate", "check challenge type")
	}
	if c.StoragePath == "" {
		return errors.WrapInvalid(
			fmt.Errorf("storage_path is required"),
			"acme.Config", "Validate", "check storage path")
	}
	if c.RenewBefore <= 0 {
		c.RenewBefore = defaultRenewBefore
	}
	return nil
}

// Account is the persisted ACME registration. It satisfies lego's
// registration.User interface.
type Account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

// GetEmail returns the registered contact address.
func (a *Account) GetEmail() string { return a.Email }

// GetRegistration returns the directory registration resource.
func (a *Account) GetRegistration() *registration.Resource { return a.Registration }

// GetPrivateKey returns the account key.
func (a *Account) GetPrivateKey() crypto.PrivateKey { return a.key }

// Client drives certificate issuance and renewal against one ACME
// directory.
type Client struct {
	cfg     Config
	lego    *lego.Client
	account *Account
	log     *slog.Logger
}

// Option adjusts client construction.
type Option func(*Client)

// WithLogger sets the logger used by the renewal loop.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient validates the config, loads or registers the ACME
// account, and prepares the lego client with the configured challenge
// provider.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StoragePath, 0o700); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "NewClient", "create storage directory")
	}

	c := &Client{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.ensureAccount(); err != nil {
		return nil, err
	}
	if err := c.buildLegoClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) storagePath(name string) string {
	return filepath.Join(c.cfg.StoragePath, name)
}

// ensureAccount loads the persisted account, or generates a fresh
// EC256 account key when none exists yet. Registration happens later
// in buildLegoClient, once the directory is reachable.
func (c *Client) ensureAccount() error {
	if _, err := os.Stat(c.storagePath(accountFile)); err == nil {
		return c.loadAccount()
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "ensureAccount", "generate account key")
	}
	c.account = &Account{Email: c.cfg.Email, key: key}
	return c.persistAccount()
}

func (c *Client) loadAccount() error {
	data, err := os.ReadFile(c.storagePath(accountFile))
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadAccount", "read account file")
	}

	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadAccount", "unmarshal account")
	}

	keyPEM, err := os.ReadFile(c.storagePath(accountKeyFile))
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadAccount", "read account key")
	}
	key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadAccount", "parse account key")
	}

	account.key = key
	c.account = &account
	return nil
}

func (c *Client) persistAccount() error {
	data, err := json.MarshalIndent(c.account, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "persistAccount", "marshal account")
	}
	if err := os.WriteFile(c.storagePath(accountFile), data, 0o600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "persistAccount", "write account file")
	}
	if err := os.WriteFile(c.storagePath(accountKeyFile), certcrypto.PEMEncode(c.account.key), 0o600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "persistAccount", "write account key")
	}
	return nil
}

// buildLegoClient configures lego against the directory, installs the
// challenge provider, and registers the account on first use.
func (c *Client) buildLegoClient() error {
	legoCfg := lego.NewConfig(c.account)
	legoCfg.CADirURL = c.cfg.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	if c.cfg.CABundle != "" {
		httpClient, err := c.caBundleHTTPClient()
		if err != nil {
			return err
		}
		legoCfg.HTTPClient = httpClient
	}

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "buildLegoClient", "create lego client")
	}

	if err := c.installChallengeProvider(client); err != nil {
		return err
	}

	if c.account.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return errors.WrapTransient(err, "acme.Client", "buildLegoClient", "register account")
		}
		c.account.Registration = reg
		if err := c.persistAccount(); err != nil {
			return err
		}
	}

	c.lego = client
	return nil
}

// caBundleHTTPClient builds an HTTP client that trusts the configured
// CA bundle, needed when the directory runs a private CA.
func (c *Client) caBundleHTTPClient() (*http.Client, error) {
	pemData, err := os.ReadFile(c.cfg.CABundle)
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "caBundleHTTPClient", "read CA bundle")
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, errors.WrapFatal(
			fmt.Errorf("no certificates parsed from %s", c.cfg.CABundle),
			"acme.Client", "caBundleHTTPClient", "parse CA bundle")
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}, nil
}

func (c *Client) installChallengeProvider(client *lego.Client) error {
	challengeType := c.cfg.ChallengeType
	if challengeType == "" {
		challengeType = "http-01"
	}

	switch challengeType {
	case "http-01":
		if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80")); err != nil {
			return errors.WrapFatal(err, "acme.Client", "installChallengeProvider", "setup HTTP-01 challenge")
		}
	case "tls-alpn-01":
		if err := client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer("", "443")); err != nil {
			return errors.WrapFatal(err, "acme.Client", "installChallengeProvider", "setup TLS-ALPN-01 challenge")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unsupported challenge type: %s", challengeType),
			"acme.Client", "installChallengeProvider", "setup challenge provider")
	}
	return nil
}

// storeKeyPair writes the issued PEM material to storage and loads it
// as a tls.Certificate.
func (c *Client) storeKeyPair(certPEM, keyPEM []byte, method string) (*tls.Certificate, error) {
	if err := os.WriteFile(c.storagePath(certFile), certPEM, 0o644); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", method, "write certificate")
	}
	if err := os.WriteFile(c.storagePath(certKeyFile), keyPEM, 0o600); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", method, "write private key")
	}

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", method, "load certificate")
	}
	return &pair, nil
}

// ObtainCertificate requests a certificate for the configured domains
// and persists it to storage.
func (c *Client) ObtainCertificate(_ context.Context) (*tls.Certificate, error) {
	issued, err := c.lego.Certificate.Obtain(certificate.ObtainRequest{
		Domains: c.cfg.Domains,
		Bundle:  true,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "acme.Client", "ObtainCertificate", "obtain certificate")
	}
	return c.storeKeyPair(issued.Certificate, issued.PrivateKey, "ObtainCertificate")
}

// RenewCertificateIfNeeded returns the stored certificate, renewing it
// first when it enters the RenewBefore window. The boolean reports
// whether a renewal happened. A (nil, false, nil) result means no
// certificate exists and the caller should obtain one.
func (c *Client) RenewCertificateIfNeeded(_ context.Context) (*tls.Certificate, bool, error) {
	certPath := c.storagePath(certFile)
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	pair, err := tls.LoadX509KeyPair(certPath, c.storagePath(certKeyFile))
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"load existing certificate")
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"parse certificate")
	}

	if time.Now().Before(leaf.NotAfter.Add(-c.cfg.RenewBefore)) {
		return &pair, false, nil
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"read certificate for renewal")
	}

	renewed, err := c.lego.Certificate.Renew(certificate.Resource{
		Domain:      c.cfg.Domains[0],
		Certificate: certPEM,
	}, true, false, "")
	if err != nil {
		return nil, false, errors.WrapTransient(err, "acme.Client", "RenewCertificateIfNeeded",
			"renew certificate")
	}

	fresh, err := c.storeKeyPair(renewed.Certificate, renewed.PrivateKey, "RenewCertificateIfNeeded")
	if err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}

// StartRenewalLoop checks for expiring certificates on every tick
// until the context is cancelled. Renewal failures are logged and the
// loop keeps running; onRenewal fires only after a successful renewal.
func (c *Client) StartRenewalLoop(ctx context.Context, checkInterval time.Duration,
	onRenewal func(*tls.Certificate)) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cert, renewed, err := c.RenewCertificateIfNeeded(ctx)
			if err != nil {
				c.log.Warn("certificate renewal check failed", "error", err)
				continue
			}
			if renewed && onRenewal != nil {
				onRenewal(cert)
			}
		}
	}
}
