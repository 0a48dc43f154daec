// Package peersync exchanges vault entries with a peer on the local network.
//
// The responder runs a Server, advertises a PairingInfo out of band and
// greets each connection with a welcome message. The initiator runs an
// Engine, which connects, waits for that welcome and then sends sync
// requests. Messages are JSON documents, one per line.
//
// Initiator states:
//
//	disconnected -> connecting -> connected <-> syncing
//
// Any transport failure passes through error and lands on disconnected;
// outstanding requests fail with ErrTransportUnavailable.
//
// A responder whose vault is locked still answers, with an empty entry list
// and the locked flag set. Merging the received entries is left to
// core.Session.ImportEntries.
package peersync
