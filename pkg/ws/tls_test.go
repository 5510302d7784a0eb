package ws_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

// generateSelfSignedCert создаёт самоподписанный сертификат
func generateSelfSignedCert(t *testing.T, id string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   id,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func TestTLSConfigFromEnv_Unset(t *testing.T) {
	t.Setenv(ws.EnvTLSCert, "")
	t.Setenv(ws.EnvTLSKey, "")
	t.Setenv(ws.EnvTLSCA, "")

	cfg, err := ws.TLSConfigFromEnv()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestTLSConfigFromEnv_KeyPairAndCA(t *testing.T) {
	certPEM, keyPEM := generateSelfSignedCert(t, "client")

	t.Setenv(ws.EnvTLSCert, b64(certPEM))
	t.Setenv(ws.EnvTLSKey, b64(keyPEM))
	t.Setenv(ws.EnvTLSCA, b64(certPEM))

	cfg, err := ws.TLSConfigFromEnv()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.RootCAs)
}

func TestTLSConfigFromEnv_Errors(t *testing.T) {
	certPEM, _ := generateSelfSignedCert(t, "client")

	t.Setenv(ws.EnvTLSCert, b64(certPEM))
	t.Setenv(ws.EnvTLSKey, "")
	t.Setenv(ws.EnvTLSCA, "")

	_, err := ws.TLSConfigFromEnv()
	assert.Error(t, err)

	t.Setenv(ws.EnvTLSCert, "")
	t.Setenv(ws.EnvTLSCA, "%%%")

	_, err = ws.TLSConfigFromEnv()
	assert.Error(t, err)

	t.Setenv(ws.EnvTLSCA, b64([]byte("not a certificate")))

	_, err = ws.TLSConfigFromEnv()
	assert.Error(t, err)
}
