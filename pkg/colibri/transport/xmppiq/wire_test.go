package xmppiq

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

func TestMarshalTokens_RoundTripsConferenceModify(t *testing.T) {
	body := wireConferenceModify{
		MeetingID: "room1",
		Endpoints: []wireEndpoint{toWireEndpoint(transport.EndpointSpec{
			ID: "p1",
			ParticipantTransport: &transport.ParticipantTransport{
				UFrag: "uf", Password: "pw", Fingerprint: "ab:cd", FingerprintHash: "sha-256",
			},
		}, true)},
	}

	r, err := marshalTokens(body)
	require.NoError(t, err)

	d := xml.NewTokenDecoder(r)
	var decoded wireConferenceModify
	require.NoError(t, d.Decode(&decoded))

	assert.Equal(t, "room1", decoded.MeetingID)
	require.Len(t, decoded.Endpoints, 1)
	assert.Equal(t, "p1", decoded.Endpoints[0].ID)
	assert.True(t, decoded.Endpoints[0].Create)
	require.NotNil(t, decoded.Endpoints[0].Transport)
	assert.Equal(t, "uf", decoded.Endpoints[0].Transport.UFrag)
	assert.Equal(t, "sha-256", decoded.Endpoints[0].Transport.Fingerprint.Hash)
}

func TestEndpointResult_MatchesByIDAndAttachesFeedback(t *testing.T) {
	reply := wireConferenceModifyReply{
		Endpoints: []wireEndpoint{
			{ID: "other", Transport: &wireTransport{UFrag: "wrong"}},
			{ID: "p1", Transport: &wireTransport{UFrag: "right", Candidates: []wireCandidate{{IP: "1.2.3.4", Port: 9}}}},
		},
		Feedback: []wireSource{{SSRC: 999, Kind: "video"}},
	}

	result := reply.endpointResult("p1")
	assert.Equal(t, "right", result.UFrag)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "1.2.3.4", result.Candidates[0].IP)
	require.Len(t, result.Feedback, 1)
	assert.Equal(t, source.FeedbackOwner, result.Feedback[0].Owner)
	assert.Equal(t, source.SSRC(999), result.Feedback[0].SSRC)
}

func TestEndpointResult_UnknownIDReturnsFeedbackOnly(t *testing.T) {
	reply := wireConferenceModifyReply{Feedback: []wireSource{{SSRC: 1, Kind: "audio"}}}
	result := reply.endpointResult("missing")
	assert.Empty(t, result.UFrag)
	assert.Len(t, result.Feedback, 1)
}

func TestToWireSources_TagsKindAndMuted(t *testing.T) {
	set := source.EndpointSourceSet{Sources: []source.Source{
		{SSRC: 1, Kind: source.KindAudio, Muted: true},
		{SSRC: 2, Kind: source.KindVideo, Video: source.VideoTypeCamera},
	}}
	out := toWireSources("p1", set)
	require.Len(t, out, 2)
	assert.True(t, out[0].Muted)
	assert.Equal(t, "camera", out[1].Video)
}
