// Package auth admits privileged requests from registered apps.
//
// # Request Signing
//
// Every privileged request carries two headers:
//
//   - X-App-Id: the app's UUID, hyphenated or compact
//   - X-Signature: base64 of an Ed25519 signature over SHA-256 of the body
//
// Only the first 1024 bytes of the body are read and signed. A request with
// no body is signed over the literal payload "obs-controller", so every
// bodiless request from an app carries the same signature whatever its path.
// There is no replay protection; deployments bind to loopback or a tailnet.
//
// # Rejections
//
// Checks run in a fixed order and stop at the first failure:
//
//	missing header            400 missing X-App-Id or X-Signature
//	malformed id              400 invalid app id in X-App-Id
//	malformed signature       400 invalid base64 in X-Signature
//	unregistered app          400 unknown app
//	signature not 64 bytes    400 signature must be 64 bytes
//	signature does not verify 401 not authenticated
//
// A registry read failure is a 500.
//
// # Usage
//
//	r.With(auth.Middleware(reg, auth.Options{Logger: logger})).Post("/recording/start", h)
//
// Handlers read the verified app with auth.FromContext(r.Context()).
package auth
