// Package fanout delivers a single ordered change-event stream to many
// independently-paced subscribers.
//
// One producer appends decoded change events into an AppendLog, which assigns
// each a strictly increasing sequence number and retains the most recent
// events up to a configured capacity. A Manager tracks a cursor per
// subscriber; each subscriber runs its own DeliveryLoop that polls for events
// past its cursor and pushes them, in order, to that subscriber's Transport.
//
// A slow or dead subscriber never blocks the producer or any other
// subscriber: the only shared state is the log, readers take consistent
// snapshots, and every cursor is owned by exactly one loop.
package fanout
