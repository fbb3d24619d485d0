package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "participant.yaml")
	doc := `
domain_id: 3
participant_id: 1
lease_duration: 30s
security:
  identity_ca: file:/etc/dds/ca.pem
properties:
  foo: bar
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DomainID)
	assert.Equal(t, 1, cfg.ParticipantID)
	assert.Equal(t, "30s", cfg.LeaseDuration)
	assert.Equal(t, "file:/etc/dds/ca.pem", cfg.Security.IdentityCA)
	assert.Equal(t, "bar", cfg.Properties["foo"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadURIFileScheme(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(path, []byte("cert-bytes"), 0o600))

	b, err := LoadURI("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, "cert-bytes", string(b))
}

func TestLoadURIDataSchemeBase64(t *testing.T) {
	b, err := LoadURI("data:aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestLoadURIDataSchemeRawFallback(t *testing.T) {
	b, err := LoadURI("data:not-base64!!")
	require.NoError(t, err)
	assert.Equal(t, "not-base64!!", string(b))
}

func TestLoadURIPKCS11RequiresSession(t *testing.T) {
	_, err := LoadURI("pkcs11:token=dds;object=key")
	assert.Error(t, err)
}

func TestLoadURIUnrecognizedScheme(t *testing.T) {
	_, err := LoadURI("ftp://example/cert")
	assert.Error(t, err)
}

func TestIsPKCS11(t *testing.T) {
	assert.True(t, IsPKCS11("pkcs11:token=dds"))
	assert.False(t, IsPKCS11("file:/etc/dds/ca.pem"))
}
