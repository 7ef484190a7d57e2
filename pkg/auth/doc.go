// Package auth resolves bearer credentials to actor IDs.
//
// Two authenticators implement the same interface. TokenStore handles
// static API tokens: the plaintext is returned once at creation and
// only its SHA-256 hash is stored, so a leaked table leaks no
// credentials. OIDCAuthenticator delegates to an external identity
// provider; JWT-shaped credentials verify locally against the
// provider's signing keys, opaque access tokens resolve through the
// userinfo endpoint.
//
// Authentication answers only who is calling. What the caller may do is
// decided by pkg/authz against the grants the actor directory loads for
// the resolved ID.
package auth
