// Package client is a Go client for recorder-gateway.
//
// Register performs the one-time handshake: it generates an ephemeral X25519
// key pair, posts the public half with the app's id and name, waits while
// the user is asked for consent, and opens the returned signing key. The
// resulting Credentials are saved with SaveCredentials and reused for every
// later request:
//
//	c := client.New("http://127.0.0.1:4444", nil)
//	creds, err := c.Register(ctx, uuid.NewString(), "Stream Deck")
//	...
//	status, err := c.Start(ctx, creds, "Match %CCYY-%MM-%DD")
//
// Failed requests return *APIError carrying the gateway's status and message.
package client
