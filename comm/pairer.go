package comm

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/admission"
	"github.com/pkg/errors"
)

// Variables

// ErrNoPeers is returned when there is nobody to pair with.
var ErrNoPeers = errors.New("no peers configured")

// Structs

// Pairer delivers a candidate's admission request to
// the first configured peer that accepts it.
type Pairer struct {
	logger log.Logger
	dialer *Dialer
	peers  []string
}

// Functions

// NewPairer returns a Pairer trying peers in order.
func NewPairer(logger log.Logger, dialer *Dialer, peers []string) *Pairer {

	return &Pairer{
		logger: logger,
		dialer: dialer,
		peers:  append([]string(nil), peers...),
	}
}

// Pair asks the peers of the space behind discoveryID to
// grant req and returns the first confirmation received.
func (p *Pairer) Pair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error) {

	if len(p.peers) == 0 {
		return nil, ErrNoPeers
	}

	var last error
	for _, peer := range p.peers {

		client, err := p.dialer.Client(peer)
		if err != nil {
			last = err
			continue
		}

		resp, err := client.Pair(ctx, &PairRequest{
			DiscoveryID: discoveryID,
			Request:     req,
		})
		if err != nil {

			level.Debug(p.logger).Log(
				"msg", "pairing attempt failed",
				"peer", peer,
				"invite", req.InviteID,
				"err", err,
			)

			// Only the peer holding the invite can say it is used.
			if errors.Is(err, admission.ErrInviteUnavailable) {
				return nil, err
			}

			last = err
			continue
		}

		return resp.Confirm, nil
	}

	return nil, last
}
