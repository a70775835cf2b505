package crawler

type state int

const (
	stateInit state = iota
	stateFetchingPage
	stateProcessingItems
	stateThrottleBreak
	stateThrottledRetry
	stateErrorRetry
	stateDone
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateFetchingPage:
		return "FETCHING_PAGE"
	case stateProcessingItems:
		return "PROCESSING_ITEMS"
	case stateThrottleBreak:
		return "THROTTLE_BREAK"
	case stateThrottledRetry:
		return "THROTTLED_RETRY"
	case stateErrorRetry:
		return "ERROR_RETRY"
	case stateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}
