package participant_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/participant"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

func TestSynthesizeOffer_OmitsVideoWhenDisabled(t *testing.T) {
	features := participant.NewFeatureSet([]string{participant.FeatureREMB})
	c := participant.NewController("p1", features, time.Now, logrus.NewEntry(logrus.New()))

	offer := c.SynthesizeOffer(
		participant.OfferOptions{Audio: true, Video: false, REMB: true},
		participant.Allocation{Feedback: []source.Source{{SSRC: 1, Kind: source.KindVideo, Owner: source.FeedbackOwner}}},
		source.ConferenceSourceMap{},
		[]jingle.Codec{{PayloadType: 111, Name: "opus", RTCPFeedback: []string{"goog-remb"}}},
		nil,
	)

	require.Len(t, offer.Contents, 1)
	assert.Equal(t, jingle.ContentAudio, offer.Contents[0].Name)
	assert.Contains(t, offer.Contents[0].Sources[source.FeedbackOwner].Sources, source.Source{SSRC: 1, Kind: source.KindVideo, Owner: source.FeedbackOwner})
}

func TestSynthesizeOffer_StripsFeedbackNotInParticipantFeatures(t *testing.T) {
	// Conference wants REMB, but this participant never advertised it.
	features := participant.NewFeatureSet(nil)
	c := participant.NewController("p1", features, time.Now, logrus.NewEntry(logrus.New()))

	offer := c.SynthesizeOffer(
		participant.OfferOptions{Audio: true, REMB: true},
		participant.Allocation{},
		source.ConferenceSourceMap{},
		[]jingle.Codec{{PayloadType: 111, Name: "opus", RTCPFeedback: []string{"goog-remb"}}},
		nil,
	)

	require.Len(t, offer.Contents, 1)
	assert.Empty(t, offer.Contents[0].Codecs[0].RTCPFeedback)
}
