// Package password hashes new passwords set through a reset and verifies them later.
//
// Hashes use Argon2id in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters than the
// current configuration.
//
// Length policy is byte based. Plaintext is never logged or normalised.
package password
