package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/go-pluto/gallery/coordinator"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type GalleryMetrics struct {
	Coordinator *coordinator.Metrics
}

func NewGalleryMetrics(prometheusAddr string) *GalleryMetrics {

	m := &GalleryMetrics{}

	if prometheusAddr == "" {
		m.Coordinator = &coordinator.Metrics{
			Uploads:        discard.NewCounter(),
			UploadFailures: discard.NewCounter(),
			Invites:        discard.NewCounter(),
			Admissions:     discard.NewCounter(),
			Joins:          discard.NewCounter(),
			IngestedOps:    discard.NewCounter(),
		}
	} else {
		m.Coordinator = &coordinator.Metrics{
			Uploads:        counter("uploads_total", "Number of files stored by this peer"),
			UploadFailures: counter("upload_failures_total", "Number of rejected uploads"),
			Invites:        counter("invites_total", "Number of invites created"),
			Admissions:     counter("admissions_total", "Number of writers this peer admitted"),
			Joins:          counter("joins_total", "Number of completed joins"),
			IngestedOps:    counter("ingested_ops_total", "Number of operations pulled from other peers"),
		}
	}

	return m
}

func counter(name string, help string) *prometheus.Counter {

	return prometheus.NewCounterFrom(prom.CounterOpts{
		Namespace: "gallery",
		Subsystem: "coordinator",
		Name:      name,
		Help:      help,
	}, nil)
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
