package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
)

// Structs

// LogStore persists writer logs as files of length
// delimited operations, one file per writer. It
// implements oplog.Persister.
type LogStore struct {
	lock   *sync.Mutex
	logger log.Logger
	dir    string
	files  map[oplog.WriterID]*os.File
	next   map[oplog.WriterID]uint64
}

// Functions

// OpenLogStore prepares dir to hold writer logs.
func OpenLogStore(logger log.Logger, dir string) (*LogStore, error) {

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory '%s'", dir)
	}

	return &LogStore{
		lock:   &sync.Mutex{},
		logger: logger,
		dir:    dir,
		files:  make(map[oplog.WriterID]*os.File),
		next:   make(map[oplog.WriterID]uint64),
	}, nil
}

func (s *LogStore) path(writer oplog.WriterID) string {
	return filepath.Join(s.dir, string(writer)+".log")
}

// Load reads every stored log. A record cut off by a crash
// and everything behind it is discarded and the file is
// truncated to the last complete record.
func (s *LogStore) Load() (map[oplog.WriterID][]*oplog.Operation, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.log"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list log files")
	}

	logs := make(map[oplog.WriterID][]*oplog.Operation, len(paths))

	for _, path := range paths {

		writer := oplog.WriterID(strings.TrimSuffix(filepath.Base(path), ".log"))
		if !writer.Valid() {
			level.Warn(s.logger).Log("msg", "skipping file that does not belong to a writer", "path", path)
			continue
		}

		ops, err := s.loadLog(writer, path)
		if err != nil {
			return nil, err
		}

		logs[writer] = ops
		s.next[writer] = uint64(len(ops))
	}

	return logs, nil
}

func (s *LogStore) loadLog(writer oplog.WriterID, path string) ([]*oplog.Operation, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read log of writer %s", writer.Short())
	}

	var ops []*oplog.Operation
	offset := 0

	for offset < len(data) {

		op, n, err := oplog.ConsumeDelimited(data[offset:])
		if err != nil {
			level.Warn(s.logger).Log(
				"msg", "discarding damaged log tail",
				"writer", writer.Short(),
				"offset", offset,
				"err", err,
			)
			break
		}

		if op.Writer != writer || op.Seq != uint64(len(ops)) {
			level.Warn(s.logger).Log(
				"msg", "discarding log tail out of sequence",
				"writer", writer.Short(),
				"seq", op.Seq,
				"expected", len(ops),
			)
			break
		}

		ops = append(ops, op)
		offset += n
	}

	if offset < len(data) {
		if err := os.Truncate(path, int64(offset)); err != nil {
			return nil, errors.Wrapf(err, "failed to truncate log of writer %s", writer.Short())
		}
	}

	return ops, nil
}

// Persist appends ops, which must continue the stored log
// of writer without a gap, and flushes them to disk.
func (s *LogStore) Persist(writer oplog.WriterID, ops []*oplog.Operation) error {

	if len(ops) == 0 {
		return nil
	}

	if !writer.Valid() {
		return errors.Errorf("refusing to persist log of invalid writer '%s'", writer.Short())
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if ops[0].Seq != s.next[writer] {
		return &oplog.OutOfOrderError{Writer: writer, Expected: s.next[writer], Got: ops[0].Seq}
	}

	f, err := s.open(writer)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, op := range ops {
		buf.Write(oplog.AppendDelimited(nil, op))
	}

	if _, err := io.Copy(f, &buf); err != nil {
		return errors.Wrapf(err, "failed to append to log of writer %s", writer.Short())
	}

	// Only count operations as stored
	// once they reached the disk.
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync log of writer %s", writer.Short())
	}

	s.next[writer] += uint64(len(ops))

	return nil
}

func (s *LogStore) open(writer oplog.WriterID) (*os.File, error) {

	if f, ok := s.files[writer]; ok {
		return f, nil
	}

	f, err := os.OpenFile(s.path(writer), (os.O_CREATE | os.O_WRONLY | os.O_APPEND), 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log of writer %s", writer.Short())
	}
	s.files[writer] = f

	return f, nil
}

// Next returns the sequence number the stored
// log of writer continues with.
func (s *LogStore) Next(writer oplog.WriterID) uint64 {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.next[writer]
}

// Close releases all open log files.
func (s *LogStore) Close() error {

	s.lock.Lock()
	defer s.lock.Unlock()

	var first error
	for writer, f := range s.files {

		if err := f.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close log of writer %s", writer.Short())
		}

		delete(s.files, writer)
	}

	return first
}
