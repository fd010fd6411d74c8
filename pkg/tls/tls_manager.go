package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/antibyte/retroforth/pkg/configuration"
	"github.com/antibyte/retroforth/pkg/logger"
)

const stagingDirectoryURL = "https://acme-staging-v02.api.letsencrypt.org/directory"

// TLSManager handles TLS certificate management including Let's Encrypt
type TLSManager struct {
	config      *TLSConfig
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
	initialized bool
}

// TLSConfig holds TLS configuration options
type TLSConfig struct {
	EnableTLS          bool
	EnableLetsEncrypt  bool
	Domain             string
	LetsEncryptEmail   string
	CertCacheDir       string
	ForceHTTPSRedirect bool
	CertFile           string
	KeyFile            string
	SelfSigned         bool // generate CertFile/KeyFile when missing
	Staging            bool // use the Let's Encrypt staging directory
	HTTPPort           string
	HTTPSPort          string
}

// ConfigFromSettings reads the [TLS] section.
func ConfigFromSettings() *TLSConfig {
	return &TLSConfig{
		EnableTLS:          configuration.GetBool("TLS", "enabled", false),
		EnableLetsEncrypt:  configuration.GetBool("TLS", "use_letsencrypt", false),
		Domain:             configuration.GetString("TLS", "domain", ""),
		LetsEncryptEmail:   configuration.GetString("TLS", "email", ""),
		CertCacheDir:       configuration.GetString("TLS", "cache_dir", "certs"),
		ForceHTTPSRedirect: configuration.GetBool("TLS", "redirect_http", true),
		CertFile:           configuration.GetString("TLS", "cert_file", "certs/server.crt"),
		KeyFile:            configuration.GetString("TLS", "key_file", "certs/server.key"),
		SelfSigned:         configuration.GetBool("TLS", "self_signed", false),
		Staging:            !configuration.GetBool("TLS", "lets_encrypt_prod", true),
		HTTPPort:           configuration.GetString("TLS", "http_port", "80"),
		HTTPSPort:          configuration.GetString("TLS", "port", "443"),
	}
}

// NewTLSManager creates a TLS manager from settings.cfg
func NewTLSManager() (*TLSManager, error) {
	return NewTLSManagerWithConfig(ConfigFromSettings())
}

// NewTLSManagerWithConfig validates config and prepares certificates
func NewTLSManagerWithConfig(config *TLSConfig) (*TLSManager, error) {
	manager := &TLSManager{config: config}

	if err := manager.validateConfig(); err != nil {
		return nil, errors.Wrap(err, "TLS configuration validation failed")
	}
	if config.EnableTLS {
		if err := manager.initializeTLS(); err != nil {
			return nil, errors.Wrap(err, "TLS initialization failed")
		}
	}
	return manager, nil
}

// validateConfig validates the TLS configuration
func (tm *TLSManager) validateConfig() error {
	if !tm.config.EnableTLS {
		return nil
	}
	if tm.config.EnableLetsEncrypt {
		if strings.TrimSpace(tm.config.Domain) == "" {
			return errors.New("domain is required when Let's Encrypt is enabled")
		}
		if strings.TrimSpace(tm.config.LetsEncryptEmail) == "" {
			return errors.New("email is required when Let's Encrypt is enabled")
		}
		if strings.Contains(tm.config.Domain, "example.com") {
			logger.Warn(logger.AreaTLS, "Using example domain - change this in production!")
		}
		return nil
	}

	if tm.config.CertFile == "" || tm.config.KeyFile == "" {
		return errors.New("cert_file and key_file are required for manual TLS")
	}
	return nil
}

// initializeTLS sets up TLS configuration
func (tm *TLSManager) initializeTLS() error {
	if tm.config.EnableLetsEncrypt {
		return tm.initializeLetsEncrypt()
	}
	return tm.initializeManualTLS()
}

// initializeLetsEncrypt sets up Let's Encrypt automatic certificate management
func (tm *TLSManager) initializeLetsEncrypt() error {
	logger.Info(logger.AreaTLS, "Initializing Let's Encrypt for domain: %s", tm.config.Domain)

	if err := os.MkdirAll(tm.config.CertCacheDir, 0700); err != nil {
		return errors.Wrap(err, "failed to create certificate cache directory")
	}

	tm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(tm.config.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      tm.config.LetsEncryptEmail,
		HostPolicy: autocert.HostWhitelist(tm.config.Domain, "www."+tm.config.Domain),
	}
	if tm.config.Staging {
		tm.autocertMgr.Client = &acme.Client{DirectoryURL: stagingDirectoryURL}
		logger.Info(logger.AreaTLS, "Using Let's Encrypt staging environment")
	}

	tm.tlsConfig = &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			serverName := hello.ServerName
			if serverName == "" {
				logger.Warn(logger.AreaTLS, "TLS handshake without SNI, using default domain")
				serverName = tm.config.Domain
				hello.ServerName = serverName
			}
			if !tm.allowedHost(serverName) {
				logger.Warn(logger.AreaSecurity, "TLS request for unauthorized domain: %s", serverName)
				return nil, errors.Errorf("unauthorized domain: %s", serverName)
			}

			cert, err := tm.autocertMgr.GetCertificate(hello)
			if err != nil {
				logger.Warn(logger.AreaTLS, "Failed to get certificate for %s: %v", serverName, err)
				return nil, errors.Wrapf(err, "certificate error for %s", serverName)
			}
			logger.Debug(logger.AreaTLS, "Provided certificate for: %s", serverName)
			return cert, nil
		},
		NextProtos: []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion: tls.VersionTLS12,
	}

	tm.initialized = true
	logger.Info(logger.AreaTLS, "Let's Encrypt TLS manager initialized")
	return nil
}

func (tm *TLSManager) allowedHost(host string) bool {
	return host == tm.config.Domain || host == "www."+tm.config.Domain
}

// initializeManualTLS loads the configured key pair, generating a
// self-signed one first when enabled and missing.
func (tm *TLSManager) initializeManualTLS() error {
	logger.Info(logger.AreaTLS, "Initializing manual TLS with cert: %s, key: %s", tm.config.CertFile, tm.config.KeyFile)

	if tm.config.SelfSigned && !fileExists(tm.config.CertFile) && !fileExists(tm.config.KeyFile) {
		if err := tm.GenerateSelfSignedCert(); err != nil {
			return err
		}
	}

	cert, err := tls.LoadX509KeyPair(tm.config.CertFile, tm.config.KeyFile)
	if err != nil {
		return errors.Wrap(err, "load key pair")
	}
	tm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	tm.initialized = true
	logger.Info(logger.AreaTLS, "Manual TLS manager initialized")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetTLSConfig returns the TLS configuration for the HTTP server
func (tm *TLSManager) GetTLSConfig() *tls.Config {
	if !tm.initialized || !tm.config.EnableTLS {
		return nil
	}
	return tm.tlsConfig
}

// GetHTTPHandler returns the plain HTTP handler: ACME challenges wrapped
// around the HTTPS redirect when Let's Encrypt is used.
func (tm *TLSManager) GetHTTPHandler() http.Handler {
	fallback := tm.GetHTTPSRedirectHandler()
	if tm.autocertMgr != nil {
		return tm.autocertMgr.HTTPHandler(fallback)
	}
	return fallback
}

// NeedsHTTPServer returns true if HTTP server is needed (for Let's Encrypt challenges or redirects)
func (tm *TLSManager) NeedsHTTPServer() bool {
	return tm.config.EnableTLS && (tm.config.EnableLetsEncrypt || tm.config.ForceHTTPSRedirect)
}

// GetHTTPSRedirectHandler returns a handler that redirects HTTP to HTTPS
func (tm *TLSManager) GetHTTPSRedirectHandler() http.Handler {
	if !tm.config.ForceHTTPSRedirect {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		httpsURL := "https://" + host
		if tm.config.HTTPSPort != "443" {
			httpsURL = "https://" + net.JoinHostPort(host, tm.config.HTTPSPort)
		}
		httpsURL += r.URL.RequestURI()

		logger.Debug(logger.AreaTLS, "Redirecting HTTP to HTTPS: %s -> %s", r.URL.String(), httpsURL)
		http.Redirect(w, r, httpsURL, http.StatusMovedPermanently)
	})
}

// IsEnabled returns true if TLS is enabled
func (tm *TLSManager) IsEnabled() bool {
	return tm.config.EnableTLS
}

// GetHTTPPort returns the HTTP port
func (tm *TLSManager) GetHTTPPort() string {
	return tm.config.HTTPPort
}

// GetHTTPSPort returns the HTTPS port
func (tm *TLSManager) GetHTTPSPort() string {
	return tm.config.HTTPSPort
}

// GetDomain returns the configured domain
func (tm *TLSManager) GetDomain() string {
	return tm.config.Domain
}

// GenerateSelfSignedCert writes a one-year ECDSA certificate for the
// configured domain (or localhost) to CertFile and KeyFile.
func (tm *TLSManager) GenerateSelfSignedCert() error {
	if tm.config.EnableLetsEncrypt {
		return errors.New("cannot generate self-signed certificate when Let's Encrypt is enabled")
	}
	logger.Info(logger.AreaTLS, "Generating self-signed certificate for development")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.Wrap(err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errors.Wrap(err, "generate serial")
	}

	host := tm.config.Domain
	if host == "" {
		host = "localhost"
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"RetroForth"}, CommonName: host},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return errors.Wrap(err, "create certificate")
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return errors.Wrap(err, "marshal key")
	}

	if err := writePEM(tm.config.CertFile, "CERTIFICATE", der, 0644); err != nil {
		return err
	}
	return writePEM(tm.config.KeyFile, "EC PRIVATE KEY", keyDER, 0600)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return errors.Wrapf(os.WriteFile(path, data, mode), "write %s", path)
}
