// Package notifier pushes short operator messages to a chat when scheduled
// updates fire or are rejected.
//
// Messages are produced from update.* events on the bus and queued; a single
// worker delivers them through a Sender (the Telegram client) under a rate
// limit, retrying transient failures with backoff. Delivery is best-effort:
// a full queue drops the message and the page keeps working without it.
//
// A small in-memory history of delivered messages is kept for /healthz.
package notifier
