// Package state holds the canonical application state shared by every
// engine adapter and tool.
//
// The Store is the single source of truth. Components never mutate state
// directly; they dispatch a Patch tagged with the Source that caused it
// (the UI, the rendering engine, or initialization) and optionally the
// Actor that wrote it. Every dispatch produces a new snapshot; listeners
// receive their own copy, so nothing they do can leak into the Store or
// into other listeners.
//
// # Feedback-loop contract
//
// A tool that writes a value optimistically (for example a zoom input that
// publishes the typed zoom before the engine has moved) must not react to
// its own write when the notification comes back. The Store does not filter
// anything; instead each write is tagged, and the consumer decides:
//
//	origin := state.Origin{Actor: "zoom-input"}
//	origin.Dispatch(store, state.Patch{}.SetZoomLevel(state.Ptr(12.0)))
//
//	store.Subscribe(func(s state.AppState, c state.Cause) {
//		if origin.Echo(c) {
//			return // our own UI write
//		}
//		// react to engine-driven changes
//	})
//
// Because the tag travels with the notification rather than living in a
// mutable "I am writing" flag, the rule holds even when the notification is
// delivered after the writer has returned.
package state
