// Package disco runs XMPP service-discovery (XEP-0030) queries against a participant's
// client to learn which optional Jingle capabilities it supports (spec.md §4.6 feature
// discovery), the one piece of pkg/participant.FeatureSet construction that actually
// touches the wire.
package disco

import (
	"context"
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/participant"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp/ns"
)

// DefaultFeatures is assumed for a participant whose disco#info query doesn't answer in
// time, per spec.md §5: "Feature discovery is fully asynchronous with a default list
// fallback on timeout." Conservative: only the oldest, most universally supported
// optional capability is assumed present.
var DefaultFeatures = participant.NewFeatureSet([]string{participant.FeatureSourceNames})

type wireQueryResult struct {
	XMLName  xml.Name `xml:"http://jabber.org/protocol/disco#info query"`
	Features []struct {
		Var string `xml:"var,attr"`
	} `xml:"feature"`
}

// Query runs a disco#info request against target and returns its advertised features.
func Query(ctx context.Context, session *xmpp.Session, target jid.JID) (participant.FeatureSet, error) {
	var result wireQueryResult
	iq := stanza.IQ{Type: stanza.GetIQ, To: target}
	query := xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.DiscoInfo, Local: "query"}})
	if err := session.UnmarshalIQElement(ctx, query, iq, &result); err != nil {
		return nil, err
	}

	vars := make([]string, len(result.Features))
	for i, f := range result.Features {
		vars[i] = f.Var
	}
	return participant.NewFeatureSet(vars), nil
}

// QueryWithFallback is Query bounded by timeout, returning DefaultFeatures instead of
// propagating an error if target doesn't answer in time. Offer synthesis must never
// block indefinitely on a participant's client (spec.md §5).
func QueryWithFallback(ctx context.Context, session *xmpp.Session, target jid.JID, timeout time.Duration) participant.FeatureSet {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	features, err := Query(qctx, session, target)
	if err != nil {
		return DefaultFeatures
	}
	return features
}
