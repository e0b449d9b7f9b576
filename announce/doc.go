// Package announce publishes plugin lifecycle presence to etcd so external
// observers can see which plugins a PLM manager currently holds and what
// state each one is in.
//
// Each announced plugin is stored under /{namespace}/plugins/{name} with an
// etcd lease. A background goroutine renews the lease every TTL/3 seconds,
// so entries disappear automatically if the host process crashes. Withdrawing
// a plugin revokes its lease and removes the entry immediately.
//
// Announcement is strictly observational: PLM never reads announcements back
// to make lifecycle decisions, and announcement failures never fail the
// operation that produced them.
package announce
