// Package inmem is an in-memory identity provider.
//
// Passwords are bcrypt hashed, TOTP factors use pquerna/otp with a 30 second
// period and a skew of one step, and access tokens are HS256 JWTs carrying
// an aal claim. Fault injection and call counters support tests.
package inmem
