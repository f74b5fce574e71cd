// Package flows holds the login, registration, refresh and logout
// orchestrations as plain functions over explicit dependency structs.
//
// Flows hold no state between calls and never import the root package.
// Failures come back as a [FailureKind] plus the underlying error; the
// service maps kinds to public sentinels, metrics and audit events.
package flows
