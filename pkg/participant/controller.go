package participant

import (
	"github.com/sirupsen/logrus"

	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// Controller is the per-participant state atop a jingle.Session: feature discovery
// result, outgoing source-change queue, restart limiter, and force-mute flags
// (spec.md §4.6).
type Controller struct {
	ID       source.EndpointID
	Features FeatureSet
	Queue    *Queue
	Restarts *RestartLimiter

	ForceMuteAudio bool
	ForceMuteVideo bool

	logger *logrus.Entry
}

// NewController creates a Controller for a newly-joined participant with the features
// discovered via disco.
func NewController(id source.EndpointID, features FeatureSet, clock Clock, logger *logrus.Entry) *Controller {
	return &Controller{
		ID:       id,
		Features: features,
		Queue:    NewQueue(),
		Restarts: NewDefaultRestartLimiter(clock),
		logger:   logger.WithField("endpoint", id),
	}
}

// effectiveOptions intersects OfferOptions with the participant's discovered features:
// an optional capability is only offered if both the conference config and the
// participant's client support it.
func (c *Controller) effectiveOptions(opts OfferOptions) OfferOptions {
	out := opts
	out.RTX = opts.RTX && c.Features.Has(FeatureRTX)
	out.TCC = opts.TCC && c.Features.Has(FeatureTCC)
	out.REMB = opts.REMB && c.Features.Has(FeatureREMB)
	out.OpusRED = opts.OpusRED && c.Features.Has(FeatureOpusRed)
	out.SCTP = opts.SCTP && c.Features.Has(FeatureSCTP)
	return out
}

// SynthesizeOffer builds the session-initiate payload for this participant
// (spec.md §4.6 offer synthesis): OfferOptions intersected with its feature set, the
// bridge's feedback sources, and every other endpoint's sources — already filtered by
// the caller to exclude this participant's own entry and any entry owned by the
// sentinel bridge owner (I4) before being passed in as remoteSources.
func (c *Controller) SynthesizeOffer(opts OfferOptions, alloc Allocation, remoteSources source.ConferenceSourceMap, audioCodecs, videoCodecs []jingle.Codec) jingle.Offer {
	effective := c.effectiveOptions(opts)
	transport := toJingleTransport(alloc.Transport)
	sources := withFeedback(remoteSources, alloc.Feedback)

	var contents []jingle.Content
	if effective.Audio {
		contents = append(contents, jingle.Content{
			Name:      jingle.ContentAudio,
			Codecs:    filterFeedback(audioCodecs, effective),
			Transport: transport,
			Sources:   sources,
		})
	}
	if effective.Video {
		contents = append(contents, jingle.Content{
			Name:      jingle.ContentVideo,
			Codecs:    filterFeedback(videoCodecs, effective),
			Transport: transport,
			Sources:   sources,
		})
	}

	return jingle.Offer{Contents: contents}
}

// filterFeedback strips rtcp-fb entries the participant's effective options disable
// (e.g. no "goog-remb" feedback line if REMB isn't negotiated for this participant).
func filterFeedback(codecs []jingle.Codec, opts OfferOptions) []jingle.Codec {
	out := make([]jingle.Codec, len(codecs))
	for i, codec := range codecs {
		c := codec
		var fb []string
		for _, f := range codec.RTCPFeedback {
			switch f {
			case "goog-remb":
				if !opts.REMB {
					continue
				}
			case "transport-cc":
				if !opts.TCC {
					continue
				}
			}
			fb = append(fb, f)
		}
		c.RTCPFeedback = fb
		out[i] = c
	}
	return out
}

func withFeedback(remote source.ConferenceSourceMap, feedback []source.Source) source.ConferenceSourceMap {
	if len(feedback) == 0 {
		return remote
	}
	out := make(source.ConferenceSourceMap, len(remote)+1)
	for k, v := range remote {
		out[k] = v
	}
	out[source.FeedbackOwner] = source.EndpointSourceSet{Sources: feedback}
	return out
}

func toJingleTransport(t OfferTransport) jingle.Transport {
	return jingle.Transport{
		UFrag:       t.UFrag,
		Password:    t.Password,
		Fingerprint: t.Fingerprint,
	}
}
