package xray

import "errors"

const (
	uplink   = "uplink"
	downlink = "downlink"
)

// Counter is the result of reading one xray stats counter: either a value
// or the error that prevented reading it.
type Counter struct {
	Value int64
	Err   error
}

func (c Counter) OK() bool {
	return c.Err == nil
}

// ValueOr returns the counter value, or def when the read failed.
func (c Counter) ValueOr(def int64) int64 {
	if c.Err != nil {
		return def
	}
	return c.Value
}

// Missing reports whether the read failed only because xray has not
// created the counter yet, which it does lazily on first traffic.
func (c Counter) Missing() bool {
	return IsKind(c.Err, KindCounterNotFound)
}

// TrafficSample holds both directions of a user or inbound, read independently.
type TrafficSample struct {
	Uplink   Counter
	Downlink Counter
}

// Total sums both legs, a failed leg counting as zero.
func (s TrafficSample) Total() int64 {
	return s.Uplink.ValueOr(0) + s.Downlink.ValueOr(0)
}

// Err joins the errors of both legs; nil when both reads succeeded.
func (s TrafficSample) Err() error {
	return errors.Join(s.Uplink.Err, s.Downlink.Err)
}

// Failed reports whether a leg failed for a reason other than a missing counter.
func (s TrafficSample) Failed() bool {
	return (!s.Uplink.OK() && !s.Uplink.Missing()) || (!s.Downlink.OK() && !s.Downlink.Missing())
}

func userCounterName(email, direction string) string {
	return "user>>>" + email + ">>>traffic>>>" + direction
}

func inboundCounterName(tag, direction string) string {
	return "inbound>>>" + tag + ">>>traffic>>>" + direction
}
