// Package announce turns stream payloads and REST listings into
// announcements, drops ones already seen and hands the rest to a notifier.
//
// Producers (the router handler and the poller) push into a growable queue
// without blocking. A single worker drains the queue in order.
package announce
