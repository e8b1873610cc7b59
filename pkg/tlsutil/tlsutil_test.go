package tlsutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parrishsteve/splatcast/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedPEM builds a throwaway certificate for cn, usable for both
// server and client auth.
func selfSignedPEM(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Splatcast Test"},
			CommonName:   cn,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// writeCertFiles drops a self-signed cert, its key, and a CA file (the
// cert itself) into a temp dir.
func writeCertFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()

	dir := t.TempDir()
	certPEM, keyPEM := selfSignedPEM(t, "localhost")

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return certFile, keyFile, caFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile, _ := writeCertFiles(t)

	t.Run("disabled returns nil config", func(t *testing.T) {
		got, err := LoadServerTLSConfig(security.ServerTLSConfig{Enabled: false})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("loads certificate and min version", func(t *testing.T) {
		got, err := LoadServerTLSConfig(security.ServerTLSConfig{
			Enabled:    true,
			CertFile:   certFile,
			KeyFile:    keyFile,
			MinVersion: "1.3",
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Len(t, got.Certificates, 1)
		assert.NotEmpty(t, got.Certificates[0].Certificate)
		assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)
	})

	t.Run("missing certificate file", func(t *testing.T) {
		_, err := LoadServerTLSConfig(security.ServerTLSConfig{
			Enabled:  true,
			CertFile: "/nonexistent/cert.pem",
			KeyFile:  keyFile,
		})
		require.Error(t, err)
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := LoadServerTLSConfig(security.ServerTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  "/nonexistent/key.pem",
		})
		require.Error(t, err)
	})
}

func TestLoadClientTLSConfig(t *testing.T) {
	_, _, caFile := writeCertFiles(t)

	t.Run("defaults trust the system pool", func(t *testing.T) {
		got, err := LoadClientTLSConfig(security.ClientTLSConfig{})
		require.NoError(t, err)
		assert.NotNil(t, got.RootCAs)
		assert.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
		assert.False(t, got.InsecureSkipVerify)
	})

	t.Run("extra CA files extend the pool", func(t *testing.T) {
		got, err := LoadClientTLSConfig(security.ClientTLSConfig{
			CAFiles: []string{caFile, caFile},
		})
		require.NoError(t, err)
		assert.NotNil(t, got.RootCAs)
	})

	t.Run("insecure skip verify is honored", func(t *testing.T) {
		got, err := LoadClientTLSConfig(security.ClientTLSConfig{InsecureSkipVerify: true})
		require.NoError(t, err)
		assert.True(t, got.InsecureSkipVerify)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := LoadClientTLSConfig(security.ClientTLSConfig{
			CAFiles: []string{"/nonexistent/ca.pem"},
		})
		require.Error(t, err)
	})

	t.Run("invalid PEM", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "garbage.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o644))

		_, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{bad}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse CA certificate")
	})
}

func TestMinTLSVersion(t *testing.T) {
	cases := []struct {
		version string
		want    uint16
	}{
		{"1.3", tls.VersionTLS13},
		{"1.2", tls.VersionTLS12},
		{"", tls.VersionTLS12},
		{"1.1", tls.VersionTLS12},
		{"bogus", tls.VersionTLS12},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, minTLSVersion(tc.version), "version %q", tc.version)
	}
}

func TestLoadServerTLSConfigWithMTLS(t *testing.T) {
	certFile, keyFile, caFile := writeCertFiles(t)

	serverCfg := security.ServerTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}

	t.Run("disabled mTLS leaves client auth off", func(t *testing.T) {
		got, err := LoadServerTLSConfigWithMTLS(serverCfg, security.ServerMTLSConfig{})
		require.NoError(t, err)
		assert.Equal(t, tls.NoClientCert, got.ClientAuth)
		assert.Nil(t, got.ClientCAs)
	})

	t.Run("required client certificate", func(t *testing.T) {
		got, err := LoadServerTLSConfigWithMTLS(serverCfg, security.ServerMTLSConfig{
			Enabled:           true,
			ClientCAFiles:     []string{caFile},
			RequireClientCert: true,
		})
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
		assert.NotNil(t, got.ClientCAs)
	})

	t.Run("optional client certificate", func(t *testing.T) {
		got, err := LoadServerTLSConfigWithMTLS(serverCfg, security.ServerMTLSConfig{
			Enabled:       true,
			ClientCAFiles: []string{caFile},
		})
		require.NoError(t, err)
		assert.Equal(t, tls.VerifyClientCertIfGiven, got.ClientAuth)
	})

	t.Run("CN allow list installs a verifier", func(t *testing.T) {
		got, err := LoadServerTLSConfigWithMTLS(serverCfg, security.ServerMTLSConfig{
			Enabled:           true,
			ClientCAFiles:     []string{caFile},
			RequireClientCert: true,
			AllowedClientCNs:  []string{"publisher-acme"},
		})
		require.NoError(t, err)
		assert.NotNil(t, got.VerifyPeerCertificate)
	})

	t.Run("missing client CA file", func(t *testing.T) {
		_, err := LoadServerTLSConfigWithMTLS(serverCfg, security.ServerMTLSConfig{
			Enabled:       true,
			ClientCAFiles: []string{"/nonexistent/ca.pem"},
		})
		require.Error(t, err)
	})
}

func TestCheckAllowedCN(t *testing.T) {
	parse := func(cn string) *x509.Certificate {
		certPEM, _ := selfSignedPEM(t, cn)
		block, _ := pem.Decode(certPEM)
		require.NotNil(t, block)
		cert, err := x509.ParseCertificate(block.Bytes)
		require.NoError(t, err)
		return cert
	}

	allowed := []string{"publisher-acme", "publisher-globex"}

	t.Run("allowed CN passes", func(t *testing.T) {
		chains := [][]*x509.Certificate{{parse("publisher-acme")}}
		assert.NoError(t, checkAllowedCN(chains, allowed))
	})

	t.Run("unknown CN is rejected", func(t *testing.T) {
		chains := [][]*x509.Certificate{{parse("publisher-rogue")}}
		err := checkAllowedCN(chains, allowed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed list")
	})

	t.Run("no verified chains", func(t *testing.T) {
		err := checkAllowedCN(nil, allowed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no verified certificate chains")
	})
}

func TestLoadClientTLSConfigWithMTLS(t *testing.T) {
	certFile, keyFile, caFile := writeCertFiles(t)

	clientCfg := security.ClientTLSConfig{CAFiles: []string{caFile}}

	t.Run("disabled mTLS presents no certificate", func(t *testing.T) {
		got, err := LoadClientTLSConfigWithMTLS(clientCfg, security.ClientMTLSConfig{})
		require.NoError(t, err)
		assert.Empty(t, got.Certificates)
	})

	t.Run("enabled mTLS loads the client certificate", func(t *testing.T) {
		got, err := LoadClientTLSConfigWithMTLS(clientCfg, security.ClientMTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)
		require.Len(t, got.Certificates, 1)
		assert.NotEmpty(t, got.Certificates[0].Certificate)
	})

	t.Run("missing certificate file", func(t *testing.T) {
		_, err := LoadClientTLSConfigWithMTLS(clientCfg, security.ClientMTLSConfig{
			Enabled:  true,
			CertFile: "/nonexistent/cert.pem",
			KeyFile:  keyFile,
		})
		require.Error(t, err)
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := LoadClientTLSConfigWithMTLS(clientCfg, security.ClientMTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  "/nonexistent/key.pem",
		})
		require.Error(t, err)
	})
}

func TestLoadServerTLSConfigWithACME_ManualModes(t *testing.T) {
	certFile, keyFile, _ := writeCertFiles(t)
	ctx := context.Background()

	t.Run("default mode delegates to manual loading", func(t *testing.T) {
		got, cleanup, err := LoadServerTLSConfigWithACME(ctx, security.ServerTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)
		require.NotNil(t, cleanup)
		defer cleanup()
		assert.Len(t, got.Certificates, 1)
	})

	t.Run("acme mode without acme enabled is manual", func(t *testing.T) {
		got, cleanup, err := LoadServerTLSConfigWithACME(ctx, security.ServerTLSConfig{
			Enabled:  true,
			Mode:     "acme",
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)
		defer cleanup()
		assert.Len(t, got.Certificates, 1)
	})

	t.Run("disabled TLS yields nil config", func(t *testing.T) {
		got, cleanup, err := LoadServerTLSConfigWithACME(ctx, security.ServerTLSConfig{})
		require.NoError(t, err)
		defer cleanup()
		assert.Nil(t, got)
	})
}

func TestLoadClientTLSConfigWithACME_ManualMode(t *testing.T) {
	certFile, keyFile, caFile := writeCertFiles(t)

	got, cleanup, err := LoadClientTLSConfigWithACME(context.Background(), security.ClientTLSConfig{
		CAFiles: []string{caFile},
		MTLS: security.ClientMTLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  keyFile,
		},
	})
	require.NoError(t, err)
	defer cleanup()
	assert.Len(t, got.Certificates, 1)
}
