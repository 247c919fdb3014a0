// Package session owns the externally visible session state. The Controller is the only
// writer; every transition goes through Reduce.
package session

// Status is the coarse session state.
type Status string

const (
	StatusLoggedOut        Status = "LOGGED_OUT"
	StatusAuthenticating   Status = "AUTHENTICATING"
	StatusAuthenticated    Status = "AUTHENTICATED"
	StatusDeauthenticating Status = "DEAUTHENTICATING"
	StatusExpired          Status = "EXPIRED"
)

// State is what subscribers see.
type State struct {
	Status Status `json:"status"`
	// Error is the last failure message, carried alongside LOGGED_OUT or AUTHENTICATED.
	Error     string `json:"error,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// External is set when the session belongs to the external identity provider.
	External bool `json:"external,omitempty"`
}

// InitialState is the state before anything is known.
func InitialState() State {
	return State{Status: StatusLoggedOut}
}

// ActionType names a transition request.
type ActionType string

const (
	ActionLoginStart     ActionType = "loginStart"
	ActionLoginSuccess   ActionType = "loginSuccess"
	ActionLoginFailure   ActionType = "loginFailure"
	ActionRestored       ActionType = "restored"
	ActionLogoutStart    ActionType = "logoutStart"
	ActionLogoutDone     ActionType = "logoutDone"
	ActionSessionExpired ActionType = "sessionExpired"
	ActionUnauthorized   ActionType = "unauthorized"
)

// Action is one input to Reduce.
type Action struct {
	Type      ActionType
	UserID    string
	SessionID string
	External  bool
	Error     string
}

// Reduce returns the state following s under a. Actions that do not apply to s leave it
// unchanged.
func Reduce(s State, a Action) State {
	switch a.Type {
	case ActionLoginStart:
		switch s.Status {
		case StatusLoggedOut, StatusExpired, StatusAuthenticated:
			return State{Status: StatusAuthenticating}
		}
	case ActionLoginSuccess:
		if s.Status == StatusAuthenticating {
			return authenticated(a)
		}
	case ActionLoginFailure:
		// An unauthorized event raised by the login call itself lands here as EXPIRED.
		if s.Status == StatusAuthenticating || s.Status == StatusExpired {
			return State{Status: StatusLoggedOut, Error: a.Error}
		}
	case ActionRestored:
		switch s.Status {
		case StatusLoggedOut, StatusExpired, StatusAuthenticated:
			return authenticated(a)
		}
	case ActionLogoutStart:
		if s.Status == StatusAuthenticated || s.Status == StatusExpired {
			return State{Status: StatusDeauthenticating, UserID: s.UserID, SessionID: s.SessionID, External: s.External}
		}
	case ActionLogoutDone:
		if s.Status != StatusAuthenticating {
			return State{Status: StatusLoggedOut, Error: a.Error}
		}
	case ActionSessionExpired:
		if s.Status == StatusAuthenticated {
			return State{Status: StatusExpired, Error: a.Error}
		}
	case ActionUnauthorized:
		return State{Status: StatusExpired, Error: a.Error}
	}
	return s
}

func authenticated(a Action) State {
	return State{
		Status:    StatusAuthenticated,
		UserID:    a.UserID,
		SessionID: a.SessionID,
		External:  a.External,
		Error:     a.Error,
	}
}
