package coordinator

import (
	"context"

	"github.com/go-kit/kit/metrics"
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/view"
)

// Metrics bundles the counters a coordinator reports.
type Metrics struct {
	Uploads        metrics.Counter
	UploadFailures metrics.Counter
	Invites        metrics.Counter
	Admissions     metrics.Counter
	Joins          metrics.Counter
	IngestedOps    metrics.Counter
}

type metricsService struct {
	service Service
	metrics *Metrics
}

func NewMetricsService(s Service, m *Metrics) Service {
	return &metricsService{
		service: s,
		metrics: m,
	}
}

func (s *metricsService) CreateSpace(ctx context.Context) (oplog.WriterID, error) {
	return s.service.CreateSpace(ctx)
}

func (s *metricsService) JoinSpace(ctx context.Context, token string) error {

	err := s.service.JoinSpace(ctx, token)

	if err == nil {
		s.metrics.Joins.Add(1)
	}

	return err
}

func (s *metricsService) RetryJoin(ctx context.Context) error {

	err := s.service.RetryJoin(ctx)

	if err == nil {
		s.metrics.Joins.Add(1)
	}

	return err
}

func (s *metricsService) CancelJoin() error {
	return s.service.CancelJoin()
}

func (s *metricsService) PutFile(ctx context.Context, filename string, blob []byte) (view.Entry, error) {

	entry, err := s.service.PutFile(ctx, filename, blob)

	if err != nil {
		s.metrics.UploadFailures.Add(1)
	} else {
		s.metrics.Uploads.Add(1)
	}

	return entry, err
}

func (s *metricsService) ListFiles(ctx context.Context) ([]view.Entry, error) {
	return s.service.ListFiles(ctx)
}

func (s *metricsService) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	return s.service.GetBlob(ctx, ref)
}

func (s *metricsService) CreateInvite(ctx context.Context) (string, error) {

	token, err := s.service.CreateInvite(ctx)

	if err == nil {
		s.metrics.Invites.Add(1)
	}

	return token, err
}

func (s *metricsService) HandlePair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error) {

	conf, err := s.service.HandlePair(ctx, discoveryID, req)

	if err == nil {
		s.metrics.Admissions.Add(1)
	}

	return conf, err
}

func (s *metricsService) Ingest(ctx context.Context, ops []*oplog.Operation) error {

	err := s.service.Ingest(ctx, ops)

	if err == nil {
		s.metrics.IngestedOps.Add(float64(len(ops)))
	}

	return err
}

func (s *metricsService) Serve(ctx context.Context, cursor *oplog.Cursor, limit int) ([]*oplog.Operation, bool, error) {
	return s.service.Serve(ctx, cursor, limit)
}

func (s *metricsService) Cursor() (*oplog.Cursor, bool) {
	return s.service.Cursor()
}

func (s *metricsService) Status() Status {
	return s.service.Status()
}

func (s *metricsService) Close() error {
	return s.service.Close()
}
