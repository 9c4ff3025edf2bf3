package rpc

// MethodPolicy decides which methods must go through the state-mutating
// (update) transport instead of the read-only one.
type MethodPolicy interface {
	IsUpdateCall(method string) bool
}

// MethodAllowList is a MethodPolicy backed by a set of method names.
type MethodAllowList map[string]struct{}

// NewMethodAllowList returns an allow-list holding methods
func NewMethodAllowList(methods ...string) MethodAllowList {
	l := make(MethodAllowList, len(methods))
	for _, m := range methods {
		l[m] = struct{}{}
	}
	return l
}

// DefaultMethodPolicy routes signed transaction submission through the update path
func DefaultMethodPolicy() MethodAllowList {
	return NewMethodAllowList("eth_sendRawTransaction")
}

// IsUpdateCall implements MethodPolicy
func (l MethodAllowList) IsUpdateCall(method string) bool {
	_, ok := l[method]
	return ok
}
