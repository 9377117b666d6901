package main

import (
	"context"
	"net"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/api"
	"github.com/go-pluto/gallery/comm"
	"github.com/go-pluto/gallery/config"
	"github.com/go-pluto/gallery/coordinator"
	"github.com/go-pluto/gallery/crypto"
	"github.com/go-pluto/gallery/storage"
	"github.com/pkg/errors"
)

// Structs

// node is one running gallery peer: coordinator,
// peer service, replicator and local API.
type node struct {
	logger     log.Logger
	conf       *config.Config
	svc        coordinator.Service
	logs       *storage.LogStore
	dialer     *comm.Dialer
	replicator *comm.Replicator
	peer       *comm.Server
	hub        *api.Hub
	api        *api.Server
	peerLis    net.Listener
	apiLis     net.Listener
	errc       chan error
}

// Functions

// newNode builds a peer from conf. Nothing is
// listening before start is called.
func newNode(logger log.Logger, conf *config.Config, m *GalleryMetrics) (*node, error) {

	identity, err := crypto.LoadOrCreateIdentity(filepath.Join(conf.Node.DataDir, "identity.pem"))
	if err != nil {
		return nil, err
	}

	tlsConfig, err := crypto.NewPeerTLSConfig(identity)
	if err != nil {
		return nil, err
	}

	logs, err := storage.OpenLogStore(log.With(logger, "component", "logs"), filepath.Join(conf.Node.DataDir, "logs"))
	if err != nil {
		return nil, err
	}

	blobs, err := storage.OpenBlobStore(filepath.Join(conf.Node.DataDir, "blobs"))
	if err != nil {
		logs.Close()
		return nil, err
	}

	n := &node{
		logger: logger,
		conf:   conf,
		logs:   logs,
		dialer: comm.NewDialer(tlsConfig),
		hub:    api.NewHub(logger),
		errc:   make(chan error, 2),
	}

	b := &backend{maxOps: conf.Replication.MaxPullOps}

	n.replicator = comm.NewReplicator(
		log.With(logger, "component", "replicator"),
		b, n.dialer, conf.Replication.Peers,
		conf.Replication.PullInterval(), conf.Replication.DialTimeout(),
		conf.Replication.MaxPullOps,
	)

	// Without peers a join fails right away.
	var pairer coordinator.Pairer
	if len(conf.Replication.Peers) > 0 {
		pairer = comm.NewPairer(log.With(logger, "component", "pairer"), n.dialer, conf.Replication.Peers)
	}

	svc, err := coordinator.NewService(log.With(logger, "component", "coordinator"), coordinator.Options{
		Identity:           identity,
		SpacePath:          filepath.Join(conf.Node.DataDir, "space.toml"),
		Logs:               logs,
		Blobs:              blobs,
		Pairer:             pairer,
		Syncer:             n.replicator,
		Notifier:           coordinator.MultiNotifier(coordinator.NewLogNotifier(logger), n.hub),
		JoinTimeout:        conf.Admission.JoinTimeout(),
		CheckpointInterval: conf.View.CheckpointInterval,
		AllowedExtensions:  conf.View.AllowedExtensions,
	})
	if err != nil {
		n.dialer.Close()
		logs.Close()
		return nil, err
	}

	svc = coordinator.NewLoggingService(svc, log.With(logger, "component", "coordinator"))
	svc = coordinator.NewMetricsService(svc, m.Coordinator)

	b.svc = svc
	n.svc = svc
	n.peer = comm.NewServer(log.With(logger, "component", "peer"), b, tlsConfig)
	n.api = api.NewServer(logger, svc, n.hub)

	return n, nil
}

// start opens both listeners and begins serving
// and replicating in the background.
func (n *node) start() error {

	var err error

	n.peerLis, err = net.Listen("tcp", n.conf.Node.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on '%s'", n.conf.Node.ListenAddr)
	}

	n.apiLis, err = net.Listen("tcp", n.conf.Node.APIAddr)
	if err != nil {
		n.peerLis.Close()
		return errors.Wrapf(err, "failed to listen on '%s'", n.conf.Node.APIAddr)
	}

	go func() {
		n.errc <- n.peer.Serve(n.peerLis)
	}()

	go func() {
		n.errc <- n.api.Serve(n.apiLis)
	}()

	n.replicator.Run()

	level.Info(n.logger).Log(
		"msg", "peer running",
		"name", n.conf.Node.Name,
		"peer_addr", n.peerLis.Addr(),
		"api_addr", n.apiLis.Addr(),
		"peers", len(n.conf.Replication.Peers),
	)

	return nil
}

// wait blocks until ctx is done or a server fails.
func (n *node) wait(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return nil
	case err := <-n.errc:
		return err
	}
}

// close shuts the peer down in reverse order of start.
func (n *node) close(ctx context.Context) {

	if err := n.api.Shutdown(ctx); err != nil {
		level.Warn(n.logger).Log("msg", "failed to shut down api", "err", err)
	}

	if n.peerLis != nil {
		n.replicator.Close()
		n.peer.Stop()
	}

	n.svc.Close()
	n.dialer.Close()

	if err := n.logs.Close(); err != nil {
		level.Warn(n.logger).Log("msg", "failed to close logs", "err", err)
	}
}
