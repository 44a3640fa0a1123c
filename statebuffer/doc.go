// Package statebuffer persists device state reports across broker outages.
//
// When a publish fails, the report is queued in a local SQLite database;
// once the connection is restored (the device's reconnect event is the
// natural trigger) the queue is drained oldest-first and each report is
// republished with its original timestamp.
//
// The Device facade itself never touches the buffer: SendState still fails
// fast when disconnected, and the caller decides whether a failed report is
// worth queueing.
//
//	buf, err := statebuffer.Open("data/state-queue.db")
//	...
//	if err := device.SendState(state, ts); err != nil {
//	    buf.Enqueue(ctx, state, millis)
//	}
package statebuffer
