package ws

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
)

const (
	EnvTLSCert = "WSX_TLS_CERT"
	EnvTLSKey  = "WSX_TLS_KEY"
	EnvTLSCA   = "WSX_TLS_CA"
)

// TLSConfigFromEnv загружает TLS конфигурацию для wss:// из переменных окружения
// WSX_TLS_CERT - клиентский сертификат в base64
// WSX_TLS_KEY - приватный ключ в base64
// WSX_TLS_CA - CA сертификат в base64
//
// Если ни одна переменная не задана, возвращает nil без ошибки.
func TLSConfigFromEnv() (*tls.Config, error) {
	certB64 := os.Getenv(EnvTLSCert)
	keyB64 := os.Getenv(EnvTLSKey)
	caB64 := os.Getenv(EnvTLSCA)

	if certB64 == "" && keyB64 == "" && caB64 == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certB64 != "" || keyB64 != "" {
		if certB64 == "" || keyB64 == "" {
			return nil, fmt.Errorf("%s and %s must be set together", EnvTLSCert, EnvTLSKey)
		}

		certPEM, err := base64.StdEncoding.DecodeString(certB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", EnvTLSCert, err)
		}

		keyPEM, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", EnvTLSKey, err)
		}

		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}

		cfg.Certificates = []tls.Certificate{cert}
	}

	if caB64 != "" {
		caPEM, err := base64.StdEncoding.DecodeString(caB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", EnvTLSCA, err)
		}

		rootCAs := x509.NewCertPool()
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		cfg.RootCAs = rootCAs
	}

	return cfg, nil
}
