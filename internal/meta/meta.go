package meta

const (
	CLIName = "prospectctl"

	// SessionCookieName is the cookie the gateway issues after login and the
	// CLI replays on every API call.
	SessionCookieName = "prospect_session"
)
