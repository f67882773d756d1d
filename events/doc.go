// Package events carries write side changes to the read side.
//
// Command handlers publish an Envelope after the primary store write. The
// Coordinator consumes it and moves it through these states:
//
//	Published -> Delivered -> Applied -> Synchronized
//	                                  \-> SyncFailed
//
// Applying means reading the authoritative aggregate, running the domain
// applier and writing it back with a conditional put. The event id is then
// recorded in a Ledger so a redelivery never applies the same delta twice.
// Synchronizing means deleting the affected cache keys and sending absolute
// values to the search index. A SyncFailed event is redelivered by the bus
// and only its synchronization is retried.
//
// Consistency faults are permanent: IsPermanent reports them so transports
// route the event to a dead letter destination instead of retrying. A review
// delete that finds no review to remove is the exception. It is wrapped with
// Retryable because its create travels on another topic and may arrive later.
//
// LocalBus is an in-process transport. The Kafka transport lives in
// internal/kafkainfra.
package events
