// Package password is the credential verifier of the session core.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Verifier] also accepts bcrypt hashes ($2a$/$2b$/$2y$) written by the
// previous account store and reports them through [Verifier.NeedsUpgrade] so
// callers can rehash after the next successful login.
//
// This package never stores or logs passwords.
package password
