// Package oauthstate implements the signed state token carried through the
// calendar OAuth redirect.
//
// The token is self-contained: an HMAC-SHA256 signature over the payload
// (issue time, random nonce, location, provider) makes it tamper-evident
// without any server-side session storage. A 10 minute TTL bounds the
// replay window; the verifier additionally rejects tokens issued more than
// one minute in the future.
package oauthstate
