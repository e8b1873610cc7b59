// Package tlsutil builds tls.Config values from the security
// configuration: manual certificates from disk, optional mutual TLS,
// and ACME-managed certificates with background renewal.
package tlsutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/pkg/acme"
	"github.com/parrishsteve/splatcast/pkg/security"
)

const renewalCheckInterval = time.Hour

// LoadServerTLSConfig builds a listener config from manual certificate
// files. Returns nil when TLS is disabled.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minTLSVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig builds an outbound config. The system CA bundle is
// always trusted; CAFiles extend it.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendCAFiles(rootCAs, cfg.CAFiles, "LoadClientTLSConfig"); err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:         minTLSVersion(cfg.MinVersion),
		RootCAs:            rootCAs,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

// LoadServerTLSConfigWithMTLS is LoadServerTLSConfig plus client
// certificate validation when mTLS is enabled.
func LoadServerTLSConfigWithMTLS(cfg security.ServerTLSConfig, mtlsCfg security.ServerMTLSConfig) (*tls.Config, error) {
	tlsConfig, err := LoadServerTLSConfig(cfg)
	if err != nil || tlsConfig == nil || !mtlsCfg.Enabled {
		return tlsConfig, err
	}

	if err := configureClientAuth(tlsConfig, mtlsCfg); err != nil {
		return nil, err
	}
	return tlsConfig, nil
}

// LoadClientTLSConfigWithMTLS is LoadClientTLSConfig plus the client
// certificate presented when the peer requests mutual TLS.
func LoadClientTLSConfigWithMTLS(cfg security.ClientTLSConfig, mtlsCfg security.ClientMTLSConfig) (*tls.Config, error) {
	tlsConfig, err := LoadClientTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !mtlsCfg.Enabled {
		return tlsConfig, nil
	}

	cert, err := tls.LoadX509KeyPair(mtlsCfg.CertFile, mtlsCfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfigWithMTLS",
			"load client certificate")
	}
	tlsConfig.Certificates = []tls.Certificate{cert}
	return tlsConfig, nil
}

// LoadServerTLSConfigWithACME builds a listener config whose certificate
// is obtained and renewed through ACME. The returned cleanup stops the
// renewal loop; it is non-nil whenever the error is nil. When ACME
// issuance fails and manual certificate files are configured, those are
// used instead.
func LoadServerTLSConfigWithACME(ctx context.Context, cfg security.ServerTLSConfig) (*tls.Config, func(), error) {
	if cfg.Mode != "acme" || !cfg.ACME.Enabled {
		tlsConfig, err := LoadServerTLSConfigWithMTLS(cfg, cfg.MTLS)
		return tlsConfig, func() {}, err
	}

	manualFallback := func() (*tls.Config, func(), error) {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, nil, nil
		}
		tlsConfig, err := LoadServerTLSConfigWithMTLS(cfg, cfg.MTLS)
		if err != nil {
			return nil, nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfigWithACME",
				"fallback to manual TLS")
		}
		return tlsConfig, func() {}, nil
	}

	managed, cleanup, err := obtainManagedCertificate(ctx, cfg.ACME)
	if err != nil {
		tlsConfig, fn, fbErr := manualFallback()
		if tlsConfig != nil || fbErr != nil {
			return tlsConfig, fn, fbErr
		}
		return nil, nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion: minTLSVersion(cfg.MinVersion),
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return managed.Load(), nil
		},
	}
	if cfg.MTLS.Enabled {
		if err := configureClientAuth(tlsConfig, cfg.MTLS); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return tlsConfig, cleanup, nil
}

// LoadClientTLSConfigWithACME builds an outbound config whose mTLS
// client certificate is ACME-managed.
func LoadClientTLSConfigWithACME(ctx context.Context, cfg security.ClientTLSConfig) (*tls.Config, func(), error) {
	if cfg.Mode != "acme" || !cfg.ACME.Enabled {
		tlsConfig, err := LoadClientTLSConfigWithMTLS(cfg, cfg.MTLS)
		return tlsConfig, func() {}, err
	}

	tlsConfig, err := LoadClientTLSConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	manualFallback := func() (*tls.Config, func(), error) {
		if !cfg.MTLS.Enabled || cfg.MTLS.CertFile == "" || cfg.MTLS.KeyFile == "" {
			return nil, nil, nil
		}
		fallback, err := LoadClientTLSConfigWithMTLS(cfg, cfg.MTLS)
		if err != nil {
			return nil, nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfigWithACME",
				"fallback to manual client TLS")
		}
		return fallback, func() {}, nil
	}

	managed, cleanup, err := obtainManagedCertificate(ctx, cfg.ACME)
	if err != nil {
		fallback, fn, fbErr := manualFallback()
		if fallback != nil || fbErr != nil {
			return fallback, fn, fbErr
		}
		return nil, nil, err
	}

	tlsConfig.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		return managed.Load(), nil
	}
	return tlsConfig, cleanup, nil
}

// obtainManagedCertificate gets a certificate through ACME and starts
// the renewal loop that keeps the returned pointer fresh. On issuance
// failure it returns the wrapped error so the caller can fall back.
func obtainManagedCertificate(ctx context.Context, cfg security.ACMEConfig) (*atomic.Pointer[tls.Certificate], func(), error) {

	client, err := newACMEClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	cert, _, err := client.RenewCertificateIfNeeded(ctx)
	if err != nil || cert == nil {
		cert, err = client.ObtainCertificate(ctx)
		if err != nil {
			return nil, nil, errors.WrapTransient(err, "tlsutil", "obtainManagedCertificate",
				"obtain ACME certificate")
		}
	}

	managed := &atomic.Pointer[tls.Certificate]{}
	managed.Store(cert)

	renewalCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.StartRenewalLoop(renewalCtx, renewalCheckInterval,
			func(renewed *tls.Certificate) {
				managed.Store(renewed)
			})
	}()

	cleanup := func() {
		cancel()
		<-done
	}
	return managed, cleanup, nil
}

// configureClientAuth wires client-certificate validation into an
// existing listener config.
func configureClientAuth(tlsConfig *tls.Config, cfg security.ServerMTLSConfig) error {
	clientCAs := x509.NewCertPool()
	if err := appendCAFiles(clientCAs, cfg.ClientCAFiles, "configureClientAuth"); err != nil {
		return err
	}
	tlsConfig.ClientCAs = clientCAs

	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return checkAllowedCN(chains, cfg.AllowedClientCNs)
		}
	}
	return nil
}

// checkAllowedCN accepts only client certificates whose CN appears in
// the allow list. Runs after chain verification, so chains is never
// empty for a verified connection.
func checkAllowedCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	cn := chains[0][0].Subject.CommonName
	for _, want := range allowed {
		if cn == want {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", cn)
}

// appendCAFiles loads each PEM file into pool.
func appendCAFiles(pool *x509.CertPool, files []string, method string) error {
	for _, file := range files {
		pem, err := os.ReadFile(file)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", method,
				fmt.Sprintf("read CA file %s", file))
		}
		if !pool.AppendCertsFromPEM(pem) {
			return errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", method,
				fmt.Sprintf("parse CA certificate from %s", file))
		}
	}
	return nil
}

// minTLSVersion maps the config string to a crypto/tls constant,
// defaulting to TLS 1.2.
func minTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}

// newACMEClient maps the security ACME section onto the acme package
// config. A malformed RenewBefore falls back to 8 hours.
func newACMEClient(cfg security.ACMEConfig) (*acme.Client, error) {
	renewBefore, err := time.ParseDuration(cfg.RenewBefore)
	if err != nil {
		renewBefore = 8 * time.Hour
	}

	return acme.NewClient(acme.Config{
		DirectoryURL:  cfg.DirectoryURL,
		Email:         cfg.Email,
		Domains:       cfg.Domains,
		ChallengeType: cfg.ChallengeType,
		RenewBefore:   renewBefore,
		StoragePath:   cfg.StoragePath,
		CABundle:      cfg.CABundle,
	})
}
