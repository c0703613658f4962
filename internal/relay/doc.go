// Package relay delivers envelopes across a shared broadcast relay.
//
// The relay offers no handshake of its own. Forwarder confirms that a
// listener of the same scope in another context is attached before it
// broadcasts an envelope, retrying the probe until one answers. Listener is
// the receiving side: it filters relay traffic by scope and sender context,
// answers probes and hands deliveries to the local router.
//
// Concrete relays live in the memrelay, wsrelay and redisrelay subpackages.
package relay
