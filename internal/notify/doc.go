// Package notify delivers fresh announcements to the outside world.
//
// Webhook POSTs a JSON document and retries transient failures with
// exponential backoff. LogNotifier writes announcements to the log and is
// used when no webhook is configured.
package notify
