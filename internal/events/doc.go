// Package events provides the typed publish/subscribe bus that carries the
// core's event surface to collaborators (UI, persistence, IPC). Each event
// type gets its own topic; publishing never blocks a producer.
package events
