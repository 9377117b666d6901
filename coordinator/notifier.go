package coordinator

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/view"
)

// Structs

// Notifier receives what the UI of a peer needs to know.
// Callbacks run while the coordinator holds its exclusive
// section, so they must return quickly and must not call
// back into the coordinator.
type Notifier interface {
	OnViewChanged(entries []view.Entry)
	OnUploadResult(filename string, err error)
	OnInviteReady(token string)
	OnInviteError(err error)
	OnWriterJoined(writer oplog.WriterID)
	OnJoinTimeout()
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

type logNotifier struct {
	logger log.Logger
}

type multiNotifier []Notifier

// Functions

func (NopNotifier) OnViewChanged([]view.Entry) {}
func (NopNotifier) OnUploadResult(string, error) {}
func (NopNotifier) OnInviteReady(string) {}
func (NopNotifier) OnInviteError(error) {}
func (NopNotifier) OnWriterJoined(oplog.WriterID) {}
func (NopNotifier) OnJoinTimeout() {}

// NewLogNotifier returns a Notifier that writes
// every notification to logger.
func NewLogNotifier(logger log.Logger) Notifier {
	return &logNotifier{logger: log.With(logger, "component", "notifier")}
}

func (n *logNotifier) OnViewChanged(entries []view.Entry) {
	level.Debug(n.logger).Log("msg", "view changed", "files", len(entries))
}

func (n *logNotifier) OnUploadResult(filename string, err error) {

	if err != nil {
		level.Info(n.logger).Log("msg", "upload failed", "filename", filename, "err", err)
		return
	}

	level.Info(n.logger).Log("msg", "upload stored", "filename", filename)
}

func (n *logNotifier) OnInviteReady(token string) {
	level.Info(n.logger).Log("msg", "invite ready")
}

func (n *logNotifier) OnInviteError(err error) {
	level.Warn(n.logger).Log("msg", "invite failed", "err", err)
}

func (n *logNotifier) OnWriterJoined(writer oplog.WriterID) {
	level.Info(n.logger).Log("msg", "writer joined", "writer", writer.Short())
}

func (n *logNotifier) OnJoinTimeout() {
	level.Warn(n.logger).Log("msg", "timed out waiting for writer access")
}

// MultiNotifier fans every notification out to all of ns.
func MultiNotifier(ns ...Notifier) Notifier {
	return multiNotifier(ns)
}

func (m multiNotifier) OnViewChanged(entries []view.Entry) {
	for _, n := range m {
		n.OnViewChanged(entries)
	}
}

func (m multiNotifier) OnUploadResult(filename string, err error) {
	for _, n := range m {
		n.OnUploadResult(filename, err)
	}
}

func (m multiNotifier) OnInviteReady(token string) {
	for _, n := range m {
		n.OnInviteReady(token)
	}
}

func (m multiNotifier) OnInviteError(err error) {
	for _, n := range m {
		n.OnInviteError(err)
	}
}

func (m multiNotifier) OnWriterJoined(writer oplog.WriterID) {
	for _, n := range m {
		n.OnWriterJoined(writer)
	}
}

func (m multiNotifier) OnJoinTimeout() {
	for _, n := range m {
		n.OnJoinTimeout()
	}
}
