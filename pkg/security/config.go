// Package security defines the TLS configuration types shared by the
// gateway's HTTP surfaces and the metrics endpoint.
package security

// Config is the security section of the gateway configuration.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig splits TLS settings by role: Server covers listeners this
// process binds, Client covers outbound connections it makes.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ServerTLSConfig configures a TLS listener. Mode "manual" (the default)
// loads CertFile/KeyFile from disk; mode "acme" obtains and renews the
// certificate through the ACME settings.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	Mode       string `json:"mode,omitempty"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	ACME ACMEConfig       `json:"acme,omitempty"`
	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ACMEConfig drives automated certificate issuance against an ACME
// directory such as Let's Encrypt or an internal step-ca.
type ACMEConfig struct {
	Enabled       bool     `json:"enabled"`
	DirectoryURL  string   `json:"directory_url,omitempty"`
	Email         string   `json:"email,omitempty"`
	Domains       []string `json:"domains,omitempty"`
	ChallengeType string   `json:"challenge_type,omitempty"` // "http-01" or "tls-alpn-01"
	RenewBefore   string   `json:"renew_before,omitempty"`   // duration string, e.g. "8h"
	StoragePath   string   `json:"storage_path,omitempty"`
	CABundle      string   `json:"ca_bundle,omitempty"` // extra CA cert for private directories
}

// ServerMTLSConfig enables client-certificate validation on a listener.
// With RequireClientCert false a certificate is verified when presented
// but connections without one are still accepted.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig configures outbound TLS. The system CA bundle is always
// trusted; CAFiles add to it rather than replace it.
type ClientTLSConfig struct {
	Mode               string   `json:"mode,omitempty"` // "manual" (default) or "acme"
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // dev and test only
	MinVersion         string   `json:"min_version,omitempty"`

	ACME ACMEConfig       `json:"acme,omitempty"`
	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig supplies the certificate a client presents when the
// server requests mutual TLS.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}
