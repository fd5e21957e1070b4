// Package ns collects the XML namespace constants pkg/xmpp and its subpackages send and
// match stanzas against, in one place rather than scattered string literals.
package ns

const (
	// Service Discovery (XEP-0030)
	DiscoInfo = "http://jabber.org/protocol/disco#info"

	// Multi-User Chat (XEP-0045)
	MUC     = "http://jabber.org/protocol/muc"
	MUCUser = "http://jabber.org/protocol/muc#user"

	// Jingle (XEP-0166) and its common extensions
	Jingle       = "urn:xmpp:jingle:1"
	JingleICEUDP = "urn:xmpp:jingle:transports:ice-udp:1"
	JingleDTLS   = "urn:xmpp:jingle:apps:dtls:0"
	JingleRTP    = "urn:xmpp:jingle:apps:rtp:1"

	// Rayo (XEP-ish, used by Jitsi for SIP-gateway dial requests)
	Rayo = "urn:xmpp:rayo:1"

	// Jibri/Jirecon-style recorder control, Jitsi's own extension namespace.
	RecorderControl = "http://jitsi.org/protocol/jibri"

	// Jitsi's focus/conference-request extension.
	Focus = "http://jitsi.org/protocol/focus"
)
