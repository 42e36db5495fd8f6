// Package grant issues and verifies short-lived signed tokens that prove a subject
// passed PIN verification and may now complete a password reset.
//
// Tokens are JWTs carrying sub, pur, jti, iat and exp. Parsing pins the signing
// algorithm and checks issuer and audience when configured. Single use is not enforced
// here; callers track the jti.
package grant
