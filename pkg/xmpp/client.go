// Package xmpp is jicofo's thin binding to mellium.im/xmpp (spec.md §6 names XMPP
// transport and stanza parsing as an external collaborator): a connected Session, a
// Jingle-IQ Sender/Handler pair, and the conference-request/recorder/SIP-gateway
// dispatch helpers. Full stanza parsing stays out of scope per spec.md §1; this package
// only carries the shape every other component needs to put a stanza on the wire.
package xmpp

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
)

// Client is jicofo's connection to one XMPP domain.
type Client struct {
	Session *xmpp.Session
	JID     jid.JID
	logger  *logrus.Entry
}

// Dial negotiates a client-to-server session for origin over conn. features carries the
// stream negotiators (StartTLS, SASL, resource bind) the deployment requires; jicofo
// itself is agnostic to which are used, matching pkg/xmpp's "thin binding" scope.
func Dial(ctx context.Context, origin jid.JID, conn net.Conn, logger *logrus.Entry, features ...xmpp.StreamFeature) (*Client, error) {
	session, err := xmpp.NewClientSession(ctx, origin, conn, features...)
	if err != nil {
		return nil, err
	}
	return &Client{Session: session, JID: origin, logger: logger}, nil
}

// Serve runs the session's read loop, dispatching every inbound stanza to h, until the
// input stream closes or the session's context is canceled.
func (c *Client) Serve(h xmpp.Handler) error {
	return c.Session.Serve(h)
}

// Close ends the session, sending the closing stream tag.
func (c *Client) Close() error {
	return c.Session.Close()
}
