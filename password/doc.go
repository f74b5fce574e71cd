// Package password hashes and verifies account passwords with argon2id and
// enforces the registration password policy.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can rehash after the next successful login. [Argon2.VerifyDummy] lets
// login flows spend the same time on unknown accounts as on known ones.
//
// The package never stores passwords and never logs them.
package password
