// Package admission throttles requests per identity class with a sliding time window.
//
// Each class (guest, user, admin) owns a fixed capacity per rolling window. The set of
// classes is closed, so state stays bounded no matter how many callers there are:
// the in-memory store keeps at most Limit timestamps per class and guards each class
// with its own mutex. A Redis-backed store provides the same semantics across replicas.
//
// Before the counter is consulted, an optional Inspector may reject the request as a
// suspected bot or as an attack (shield). Those denials do not consume window capacity.
package admission
