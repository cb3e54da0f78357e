package memory

import (
	"strings"
	"time"
)

// Method names an operation a Stub can match.
type Method string

const (
	MethodWrite        Method = "write"
	MethodUpdate       Method = "update"
	MethodRead         Method = "read"
	MethodSubscribe    Method = "subscribe"
	MethodOnDisconnect Method = "onDisconnect"
)

// Request is what a stub matcher sees.
type Request struct {
	Method Method
	Paths  []string
}

// RequestMatcher selects requests by method and, optionally, by paths.
type RequestMatcher struct {
	Method  Method
	Matcher func(paths []string) bool
}

func (m RequestMatcher) matches(req Request) bool {
	if m.Method != "" && m.Method != req.Method {
		return false
	}
	return m.Matcher == nil || m.Matcher(req.Paths)
}

// Stub injects a failure or a delay into matching requests.
type Stub struct {
	Matcher RequestMatcher
	// Err is returned instead of applying the request, when set.
	Err error
	// Delay is waited before the request is applied or rejected.
	Delay time.Duration
	// Times limits how many requests the stub affects. Zero means no limit.
	Times int

	used int
}

// MatchMethod matches every request of one method.
func MatchMethod(method Method) RequestMatcher {
	return RequestMatcher{Method: method}
}

// MatchPathPrefix matches requests of one method touching a path under prefix.
func MatchPathPrefix(method Method, prefix string) RequestMatcher {
	return RequestMatcher{
		Method: method,
		Matcher: func(paths []string) bool {
			for _, p := range paths {
				if p == prefix || strings.HasPrefix(p, prefix+"/") {
					return true
				}
			}
			return false
		},
	}
}
