// Package feed provides multi-subscriber session feeds.
//
// A Feed fans each published session out to every subscription. Subscriptions
// are independent cursors: each has its own queue, sees sessions in publish
// order and only when it is polled. Two subscriptions of the same feed may
// observe the same rotation at different moments; nothing here synchronizes
// them.
//
// Broadcast is the in-memory implementation. The redisfeed subpackage provides
// a Redis Streams implementation for feeds shared across processes.
package feed
