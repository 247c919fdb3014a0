// Package storage models the platform storage an origin offers its tabs: a
// tab-scoped namespace that disappears with the tab, a cross-session namespace
// shared by every tab of the origin, and change notifications delivered to the
// other tabs when either namespace is mutated.
//
// Writes happen inside Update transactions. Notifications describe the net
// change of a transaction, so a clear-then-write of the same value is silent.
package storage
