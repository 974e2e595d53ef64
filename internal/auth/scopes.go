package auth

// Known OAuth scopes used by the timer API.
const (
	ScopeTimersWrite = "timers:write"
	ScopeTimersRead  = "timers:read"
)
