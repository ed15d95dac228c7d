// Package provider defines the identity provider capability set consumed by
// the login flow: password verification, TOTP factor management, challenges
// and provider-side sign-out.
//
// The provider is authoritative. Factors are a tagged variant keyed by
// FactorKind; TOTP is the only kind today.
//
// Package inmem contains a complete in-memory implementation used by the
// demo server and the tests.
package provider
