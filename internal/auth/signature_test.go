// ABOUTME: Tests for request signature verification
// ABOUTME: Covers the rejection order, default payload, body limit and the signature property

package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/recorder-gateway/internal/registry"
)

const testID = "98704291-09e9-40f2-8476-064521fadaff"

// registerTestApp writes an identity to a fresh registry and returns its signing key.
func registerTestApp(t *testing.T) (*registry.Registry, ed25519.PrivateKey) {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "apps.ock"))
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, reg.Insert(&registry.AppIdentity{ID: uuid.MustParse(testID), Name: "Test", VerifyKey: pub}))
	return reg, priv
}

func signedHeader(id, sig string) http.Header {
	h := http.Header{}
	if id != "" {
		h.Set(HeaderAppID, id)
	}
	if sig != "" {
		h.Set(HeaderSignature, sig)
	}
	return h
}

type errLookup struct{ err error }

func (e errLookup) Find(uuid.UUID) (*registry.AppIdentity, error) { return nil, e.err }

func TestAuthenticate_EmptyBodyUsesDefaultPayload(t *testing.T) {
	reg, priv := registerTestApp(t)

	digest := sha256.Sum256([]byte("obs-controller"))
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest[:]))

	body, identity, rej := Authenticate(reg, signedHeader(testID, sig), strings.NewReader(""))
	require.Nil(t, rej)
	assert.Empty(t, body)
	assert.Equal(t, "Test", identity.Name)
}

func TestAuthenticate_FlippedSignatureByte(t *testing.T) {
	reg, priv := registerTestApp(t)

	digest := sha256.Sum256([]byte("obs-controller"))
	raw := ed25519.Sign(priv, digest[:])
	raw[10] ^= 0xff

	_, _, rej := Authenticate(reg, signedHeader(testID, base64.StdEncoding.EncodeToString(raw)), nil)
	require.NotNil(t, rej)
	assert.Equal(t, http.StatusUnauthorized, rej.Status)
	assert.Equal(t, MsgNotAuthenticated, rej.Message)
}

func TestAuthenticate_ReturnsOriginalBody(t *testing.T) {
	reg, priv := registerTestApp(t)
	payload := []byte(`{"format":"%CCYY-%MM-%DD"}`)

	body, _, rej := Authenticate(reg, signedHeader(testID, Sign(priv, payload)), bytes.NewReader(payload))
	require.Nil(t, rej)
	assert.Equal(t, payload, body)
}

func TestAuthenticate_CompactID(t *testing.T) {
	reg, priv := registerTestApp(t)

	_, identity, rej := Authenticate(reg, signedHeader(strings.ReplaceAll(testID, "-", ""), Sign(priv, nil)), nil)
	require.Nil(t, rej)
	assert.Equal(t, uuid.MustParse(testID), identity.ID)
}

func TestAuthenticate_SignatureProperty(t *testing.T) {
	reg, priv := registerTestApp(t)
	_, otherKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payloads := [][]byte{
		[]byte("a"),
		[]byte("start"),
		bytes.Repeat([]byte{0x00}, 64),
		bytes.Repeat([]byte("x"), MaxBodySize),
	}
	for _, m := range payloads {
		_, _, rej := Authenticate(reg, signedHeader(testID, Sign(priv, m)), bytes.NewReader(m))
		assert.Nil(t, rej, "matching key must be admitted for %d-byte payload", len(m))

		other := append(bytes.Clone(m), '!')
		if len(other) > MaxBodySize {
			other[0] ^= 0x01
			other = other[:MaxBodySize]
		}
		_, _, rej = Authenticate(reg, signedHeader(testID, Sign(priv, m)), bytes.NewReader(other))
		require.NotNil(t, rej, "different payload must be rejected")
		assert.Equal(t, http.StatusUnauthorized, rej.Status)

		_, _, rej = Authenticate(reg, signedHeader(testID, Sign(otherKey, m)), bytes.NewReader(m))
		require.NotNil(t, rej, "different key must be rejected")
		assert.Equal(t, http.StatusUnauthorized, rej.Status)
	}
}

func TestAuthenticate_OnlyFirstKilobyteIsRead(t *testing.T) {
	reg, priv := registerTestApp(t)
	head := bytes.Repeat([]byte("h"), MaxBodySize)
	full := append(bytes.Clone(head), []byte("tail that is never read")...)

	body, _, rej := Authenticate(reg, signedHeader(testID, Sign(priv, head)), bytes.NewReader(full))
	require.Nil(t, rej)
	assert.Equal(t, head, body)
}

func TestAuthenticate_Rejections(t *testing.T) {
	reg, priv := registerTestApp(t)
	good := Sign(priv, nil)
	short := base64.StdEncoding.EncodeToString(make([]byte, 63))
	long := base64.StdEncoding.EncodeToString(make([]byte, 65))
	unknown := uuid.New().String()

	tests := []struct {
		name    string
		header  http.Header
		status  int
		message string
	}{
		{"no headers", signedHeader("", ""), 400, MsgMissingHeaders},
		{"no signature", signedHeader(testID, ""), 400, MsgMissingHeaders},
		{"no app id", signedHeader("", good), 400, MsgMissingHeaders},
		{"id wrong length", signedHeader(testID[:35], good), 400, MsgInvalidAppID},
		{"id not a uuid", signedHeader(strings.Repeat("g", 32), good), 400, MsgInvalidAppID},
		{"signature not base64", signedHeader(testID, "%%%"), 400, MsgInvalidSignature},
		{"unknown app", signedHeader(unknown, good), 400, MsgUnknownApp},
		{"signature 63 bytes", signedHeader(testID, short), 400, MsgSignatureLength},
		{"signature 65 bytes", signedHeader(testID, long), 400, MsgSignatureLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, identity, rej := Authenticate(reg, tt.header, nil)
			require.NotNil(t, rej)
			assert.Nil(t, body)
			assert.Nil(t, identity)
			assert.Equal(t, tt.status, rej.Status)
			assert.Equal(t, tt.message, rej.Message)
		})
	}
}

func TestAuthenticate_UnknownAppBeforeSignatureLength(t *testing.T) {
	short := base64.StdEncoding.EncodeToString(make([]byte, 10))
	reg := registry.New(filepath.Join(t.TempDir(), "apps.ock"))

	_, _, rej := Authenticate(reg, signedHeader(testID, short), nil)
	require.NotNil(t, rej)
	assert.Equal(t, MsgUnknownApp, rej.Message)
}

func TestAuthenticate_LookupFailure(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, _, rej := Authenticate(errLookup{err: errors.New("permission denied")}, signedHeader(testID, Sign(priv, nil)), nil)
	require.NotNil(t, rej)
	assert.Equal(t, http.StatusInternalServerError, rej.Status)
}

func TestAuthenticate_CorruptRegistry(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, _, rej := Authenticate(errLookup{err: registry.ErrCorrupt}, signedHeader(testID, Sign(priv, nil)), nil)
	require.NotNil(t, rej)
	assert.Equal(t, http.StatusInternalServerError, rej.Status)
}
