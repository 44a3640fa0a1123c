package losantmqtt

// Event identifies a device lifecycle or platform event that observers
// can be registered against.
type Event string

// Events fired by the device.
const (
	// EventConnect fires once, on the first successful connection.
	EventConnect Event = "connect"

	// EventReconnect fires on every successful connection after the first.
	EventReconnect Event = "reconnect"

	// EventClose fires when the connection is intentionally closed.
	EventClose Event = "close"

	// EventCommand fires when a command arrives from the platform.
	// The observer's data argument is the decoded command object.
	EventCommand Event = "command"
)

// Observer is a callback registered against a device event.
//
// For EventCommand, data is the decoded command payload (a map[string]any
// with extended JSON values reconstructed). For all other events data is nil.
//
// Observers run synchronously, in registration order, on the goroutine that
// services the network connection. A long-running observer blocks further
// network servicing, including delivery of subsequent events.
type Observer func(d *Device, data any)

// ObserverHandle identifies a registered observer for later removal.
//
// Go functions are not comparable, so registration hands back an opaque
// handle carrying the observer's identity. The same function may be
// registered multiple times; each registration gets its own handle.
type ObserverHandle struct {
	event Event
	id    uint64
}

// observerEntry pairs an observer with its registration identity.
type observerEntry struct {
	id uint64
	fn Observer
}

// AddEventObserver registers an observer for the named event and returns
// a handle for removal. Observers fire in registration order; duplicate
// registrations are allowed and fire once per registration.
func (d *Device) AddEventObserver(event Event, fn Observer) ObserverHandle {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	d.nextObserverID++
	handle := ObserverHandle{event: event, id: d.nextObserverID}
	d.observers[event] = append(d.observers[event], observerEntry{id: handle.id, fn: fn})
	return handle
}

// RemoveEventObserver removes a previously registered observer.
// Removing a handle that was never registered, or was already removed,
// is a no-op.
func (d *Device) RemoveEventObserver(handle ObserverHandle) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	entries, ok := d.observers[handle.event]
	if !ok {
		return
	}
	for i, entry := range entries {
		if entry.id == handle.id {
			d.observers[handle.event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// fireEvent invokes every observer registered for the event, in
// registration order. The observer list is snapshotted under the lock so
// observers may add or remove registrations without deadlocking.
func (d *Device) fireEvent(event Event, data any) {
	d.obsMu.RLock()
	entries := make([]observerEntry, len(d.observers[event]))
	copy(entries, d.observers[event])
	d.obsMu.RUnlock()

	for _, entry := range entries {
		entry.fn(d, data)
	}
}
