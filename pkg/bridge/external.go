package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// OracleRequest is sent to the external selection oracle.
type OracleRequest struct {
	Candidates        []Bridge          `json:"candidates"`
	ConferenceBridges map[ID]int        `json:"conferenceBridges"`
	ParticipantRegion string            `json:"participantRegion"`
	VersionConstraint VersionConstraint `json:"versionConstraint"`
}

// OracleResponse is the oracle's answer: the chosen bridge id, or empty if none fits.
type OracleResponse struct {
	BridgeID ID `json:"bridgeId"`
}

// ExternalStrategy delegates selection to a remote HTTP oracle, falling back to a local
// Strategy (typically RegionStrategy) if the oracle is unreachable or slow — spec.md
// §4.3's "external variant...with a fallback strategy if the oracle is unavailable or
// times out."
type ExternalStrategy struct {
	URL      string
	Client   *http.Client
	Timeout  time.Duration
	Fallback Strategy
	Logger   *logrus.Entry
}

// Select implements Strategy.
func (s ExternalStrategy) Select(candidates []Bridge, conferenceBridges map[ID]int, participantRegion string, versionConstraint VersionConstraint) (Bridge, bool) {
	chosen, err := s.askOracle(candidates, conferenceBridges, participantRegion, versionConstraint)
	if err != nil {
		s.Logger.WithError(err).Warn("selection oracle unavailable, falling back")
		return s.Fallback.Select(candidates, conferenceBridges, participantRegion, versionConstraint)
	}

	return chosen, chosen.ID != ""
}

func (s ExternalStrategy) askOracle(candidates []Bridge, conferenceBridges map[ID]int, participantRegion string, versionConstraint VersionConstraint) (Bridge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	body, err := json.Marshal(OracleRequest{
		Candidates:        candidates,
		ConferenceBridges: conferenceBridges,
		ParticipantRegion: participantRegion,
		VersionConstraint: versionConstraint,
	})
	if err != nil {
		return Bridge{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return Bridge{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return Bridge{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Bridge{}, &oracleStatusError{resp.StatusCode}
	}

	var oracleResp OracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&oracleResp); err != nil {
		return Bridge{}, err
	}

	for _, b := range candidates {
		if b.ID == oracleResp.BridgeID {
			return b, nil
		}
	}

	return Bridge{}, nil
}

type oracleStatusError struct{ code int }

func (e *oracleStatusError) Error() string {
	return http.StatusText(e.code)
}
