package main

import (
	"context"

	"github.com/go-pluto/gallery/comm"
	"github.com/go-pluto/gallery/coordinator"
	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
)

// Structs

// backend connects the peer service and the replicator
// to a coordinator. svc is set once the coordinator is
// built, before either side is started.
type backend struct {
	svc    coordinator.Service
	maxOps int
}

// Functions

func (b *backend) Pull(ctx context.Context, req *comm.PullRequest) (*comm.PullResponse, error) {

	limit := req.Limit
	if limit <= 0 || limit > b.maxOps {
		limit = b.maxOps
	}

	ops, more, err := b.svc.Serve(ctx, req.Cursor(), limit)
	if err != nil {
		return nil, toComm(err)
	}

	return &comm.PullResponse{Ops: ops, More: more}, nil
}

func (b *backend) Pair(ctx context.Context, req *comm.PairRequest) (*comm.PairResponse, error) {

	conf, err := b.svc.HandlePair(ctx, req.DiscoveryID, req.Request)
	if err != nil {
		return nil, toComm(err)
	}

	return &comm.PairResponse{Confirm: conf}, nil
}

func (b *backend) Cursor() (*oplog.Cursor, bool) {
	return b.svc.Cursor()
}

func (b *backend) Ingest(ctx context.Context, ops []*oplog.Operation) error {
	return b.svc.Ingest(ctx, ops)
}

// toComm translates coordinator errors into
// the ones the peer service knows.
func toComm(err error) error {

	switch {
	case errors.Is(err, coordinator.ErrUnauthorized):
		return comm.ErrUnauthorized
	case errors.Is(err, coordinator.ErrUnknownSpace),
		errors.Is(err, coordinator.ErrNoSpace):
		return comm.ErrUnknownSpace
	}

	return err
}
