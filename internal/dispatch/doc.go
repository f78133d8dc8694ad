// Package dispatch provides the in-process publish/subscribe bus that fans
// normalised door events and hub snapshots out to observers.
//
// # Delivery Model
//
// Publish is synchronous: every handler registered on the channel at the
// moment of publishing is invoked in registration order before Publish
// returns. A handler that returns an error or panics is logged and skipped;
// the remaining handlers still receive the event and the publisher never sees
// the failure.
//
//	bus := dispatch.NewBus()
//	unsubscribe := bus.Subscribe(dispatch.Channels{}.DoorStatus("site-a"),
//	    func(payload any) error {
//	        evt := payload.(protector.DoorStatusEvent)
//	        ...
//	        return nil
//	    })
//	defer unsubscribe()
//
// # Channel Scoping
//
// Channels are namespaced by integration instance (see Channels), so events
// for one partition never reach subscribers registered for another.
//
// # Thread Safety
//
// Subscribe, the returned unsubscribe function, and Publish are safe for
// concurrent use, including from inside a handler during delivery.
package dispatch
