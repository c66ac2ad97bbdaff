// Package jwt mints and verifies the signed claim sets used by the session core:
// short-lived access tokens, ledger-tracked refresh tokens and admin tokens.
//
// Every token carries {id, role, typ}; refresh tokens also carry the rotation
// family. Verification fails closed.
package jwt
