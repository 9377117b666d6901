package coordinator

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/view"
)

type loggingService struct {
	logger  log.Logger
	service Service
}

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {
	return &loggingService{logger, s}
}

// CreateSpace wraps this service's CreateSpace
// method with added logging capabilities.
func (s *loggingService) CreateSpace(ctx context.Context) (oplog.WriterID, error) {

	root, err := s.service.CreateSpace(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to create space", "err", err)
	} else {
		level.Info(s.logger).Log("msg", "created space", "root", root.Short())
	}

	return root, err
}

// JoinSpace wraps this service's JoinSpace
// method with added logging capabilities.
func (s *loggingService) JoinSpace(ctx context.Context, token string) error {

	err := s.service.JoinSpace(ctx, token)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to join space", "err", err)
	}

	return err
}

// RetryJoin wraps this service's RetryJoin
// method with added logging capabilities.
func (s *loggingService) RetryJoin(ctx context.Context) error {

	err := s.service.RetryJoin(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to retry join", "err", err)
	}

	return err
}

func (s *loggingService) CancelJoin() error {
	return s.service.CancelJoin()
}

// PutFile wraps this service's PutFile
// method with added logging capabilities.
func (s *loggingService) PutFile(ctx context.Context, filename string, blob []byte) (view.Entry, error) {

	begin := time.Now()
	entry, err := s.service.PutFile(ctx, filename, blob)

	logger := log.With(s.logger,
		"method", "PutFile",
		"filename", filename,
		"size", len(blob),
		"took", time.Since(begin),
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to store file", "err", err)
	} else {
		level.Debug(logger).Log("ref", entry.Ref)
	}

	return entry, err
}

func (s *loggingService) ListFiles(ctx context.Context) ([]view.Entry, error) {
	return s.service.ListFiles(ctx)
}

func (s *loggingService) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	return s.service.GetBlob(ctx, ref)
}

// CreateInvite wraps this service's CreateInvite
// method with added logging capabilities.
func (s *loggingService) CreateInvite(ctx context.Context) (string, error) {

	token, err := s.service.CreateInvite(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to create invite", "err", err)
	} else {
		level.Debug(s.logger).Log("msg", "created invite")
	}

	return token, err
}

// HandlePair wraps this service's HandlePair
// method with added logging capabilities.
func (s *loggingService) HandlePair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error) {

	conf, err := s.service.HandlePair(ctx, discoveryID, req)

	logger := log.With(s.logger,
		"method", "HandlePair",
		"invite", req.InviteID,
	)

	if err != nil {
		level.Info(logger).Log("msg", "refused pairing request", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return conf, err
}

// Ingest wraps this service's Ingest method
// with added logging capabilities.
func (s *loggingService) Ingest(ctx context.Context, ops []*oplog.Operation) error {

	err := s.service.Ingest(ctx, ops)
	if err != nil {
		level.Debug(s.logger).Log("msg", "ingest incomplete", "ops", len(ops), "err", err)
	}

	return err
}

func (s *loggingService) Serve(ctx context.Context, cursor *oplog.Cursor, limit int) ([]*oplog.Operation, bool, error) {

	ops, more, err := s.service.Serve(ctx, cursor, limit)
	if err != nil {
		level.Info(s.logger).Log(
			"msg", "refused replication request",
			"requester", cursor.Requester.Short(),
			"err", err,
		)
	}

	return ops, more, err
}

func (s *loggingService) Cursor() (*oplog.Cursor, bool) {
	return s.service.Cursor()
}

func (s *loggingService) Status() Status {
	return s.service.Status()
}

func (s *loggingService) Close() error {
	return s.service.Close()
}
