package losantmqtt

import "time"

// stateTimeKind tags the source of a state timestamp.
type stateTimeKind int

const (
	stateTimeNow stateTimeKind = iota
	stateTimeMillis
	stateTimeAt
)

// StateTime specifies the timestamp attached to a state report.
//
// It is a tagged value resolved to epoch milliseconds when the report is
// serialized: either an explicit epoch-milliseconds integer, a calendar
// timestamp, or "now". The zero value means "now".
type StateTime struct {
	kind   stateTimeKind
	millis int64
	at     time.Time
}

// StateTimeNow stamps the report with the current wall-clock time.
func StateTimeNow() StateTime {
	return StateTime{kind: stateTimeNow}
}

// StateTimeMillis stamps the report with an explicit epoch-milliseconds value.
func StateTimeMillis(ms int64) StateTime {
	return StateTime{kind: stateTimeMillis, millis: ms}
}

// StateTimeAt stamps the report with a calendar timestamp. The time's own
// location is respected; conversion to epoch milliseconds truncates
// sub-millisecond precision.
func StateTimeAt(t time.Time) StateTime {
	return StateTime{kind: stateTimeAt, at: t}
}

// epochMillis resolves the tagged value to milliseconds since the epoch.
func (st StateTime) epochMillis() int64 {
	switch st.kind {
	case stateTimeMillis:
		return st.millis
	case stateTimeAt:
		return st.at.UnixMilli()
	default:
		return time.Now().UnixMilli()
	}
}
