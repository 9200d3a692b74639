package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"walletpass-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDevCertGenerator_GeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, zaptest.NewLogger(t))
	hosts := []string{"passes.local", "127.0.0.1"}

	cert, err := gen.GenerateCert(hosts)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.NoError(t, leaf.VerifyHostname("passes.local"))
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))

	info, err := os.Stat(filepath.Join(dir, "dev-key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := gen.GenerateCert(hosts)
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], again.Certificate[0])

	other, err := gen.GenerateCert([]string{"elsewhere.local"})
	require.NoError(t, err)
	assert.NotEqual(t, cert.Certificate[0], other.Certificate[0])
}

func TestTLSManager_FallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "localhost",
		AutoCertDir: t.TempDir(),
	}, zaptest.NewLogger(t))
	assert.Nil(t, m.GetAutocertManager())

	first, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	second, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, first, second)

	cfg := m.GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotNil(t, cfg.GetCertificate)
}
