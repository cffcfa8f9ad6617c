// ABOUTME: Signature check for privileged requests from registered apps
// ABOUTME: Verifies an Ed25519 signature over SHA-256 of the request body

package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/recorder-gateway/internal/registry"
	"github.com/2389/recorder-gateway/internal/reject"
)

const (
	// HeaderAppID carries the app's textual UUID.
	HeaderAppID = "X-App-Id"

	// HeaderSignature carries the base64 Ed25519 signature.
	HeaderSignature = "X-Signature"

	// MaxBodySize is how much of a request body is read and signed. Anything
	// beyond it is neither verified nor passed on.
	MaxBodySize = 1024

	// DefaultPayload is what an app signs when the request has no body.
	DefaultPayload = "obs-controller"
)

// Client-facing rejection messages.
const (
	MsgMissingHeaders   = "missing X-App-Id or X-Signature"
	MsgInvalidAppID     = "invalid app id in X-App-Id"
	MsgInvalidSignature = "invalid base64 in X-Signature"
	MsgInvalidBody      = "invalid request body"
	MsgUnknownApp       = "unknown app"
	MsgSignatureLength  = "signature must be 64 bytes"
	MsgNotAuthenticated = "not authenticated"
)

// Lookup finds a registered app by id.
type Lookup interface {
	Find(id uuid.UUID) (*registry.AppIdentity, error)
}

// SignedPayload returns the bytes an app must sign for body.
func SignedPayload(body []byte) []byte {
	if len(body) == 0 {
		return []byte(DefaultPayload)
	}
	return body
}

// Authenticate checks the identity and signature headers against the registry
// and the first MaxBodySize bytes of body. On success it returns those bytes
// (empty when the request had no body) and the identity that signed them.
func Authenticate(lookup Lookup, header http.Header, body io.Reader) ([]byte, *registry.AppIdentity, *reject.Rejection) {
	rawID := header.Get(HeaderAppID)
	rawSig := header.Get(HeaderSignature)
	if rawID == "" || rawSig == "" {
		return nil, nil, reject.Validation(MsgMissingHeaders)
	}

	id, err := registry.ParseID(rawID)
	if err != nil {
		return nil, nil, reject.Validation(MsgInvalidAppID)
	}

	sig, err := base64.StdEncoding.DecodeString(rawSig)
	if err != nil {
		return nil, nil, reject.Validation(MsgInvalidSignature)
	}

	data := []byte{}
	if body != nil {
		data, err = io.ReadAll(io.LimitReader(body, MaxBodySize))
		if err != nil {
			return nil, nil, reject.Validation(MsgInvalidBody)
		}
	}

	identity, err := lookup.Find(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, reject.BadCredentials(MsgUnknownApp)
		}
		return nil, nil, reject.Internal(fmt.Errorf("looking up app %s: %w", id, err))
	}

	if len(sig) != ed25519.SignatureSize {
		return nil, nil, reject.BadCredentials(MsgSignatureLength)
	}

	digest := sha256.Sum256(SignedPayload(data))
	if !ed25519.Verify(identity.VerifyKey, digest[:], sig) {
		return nil, nil, reject.Unauthorized(MsgNotAuthenticated)
	}

	return data, identity, nil
}

// Sign produces the X-Signature value for body under key.
func Sign(key ed25519.PrivateKey, body []byte) string {
	if len(body) > MaxBodySize {
		body = body[:MaxBodySize]
	}
	digest := sha256.Sum256(SignedPayload(body))
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, digest[:]))
}

// bodyReader returns a fresh reader over admitted bytes.
func bodyReader(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
