package poller

// State is a node of the polling state machine:
//
//	Idle -> Waiting -> Checking -> {Updated | Retrying | Stale} -> Waiting
//
// Stopped is reachable from any blocking point.
type State int

const (
	Idle State = iota
	Waiting
	Checking
	Updated
	Retrying
	Stale
	Stopped
)

var stateNames = [...]string{
	Idle:     "idle",
	Waiting:  "waiting",
	Checking: "checking",
	Updated:  "updated",
	Retrying: "retrying",
	Stale:    "stale",
	Stopped:  "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
