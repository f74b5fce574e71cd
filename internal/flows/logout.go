package flows

import "github.com/MrEthical07/cmsauth/session"

// LogoutResult reports the session state after revocation. Known is false
// when the subject never had a session.
type LogoutResult struct {
	Session session.Session
	Known   bool
}

// RunLogout bumps subject's session version so every outstanding refresh
// token is rejected. Repeating it has no further effect on the caller.
func RunLogout(subject string, sessions SessionStore) LogoutResult {
	sess, ok := sessions.Revoke(subject)
	return LogoutResult{Session: sess, Known: ok}
}
