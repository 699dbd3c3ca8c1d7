// Package striotest provides testing utilities for strio endpoints: a
// reactor bound to the test lifecycle, an event recorder for inbound
// records, and waiters for the asynchronous open, close, and accept flows.
package striotest

import (
	"testing"
	"time"

	"github.com/strio-net/strio"
	"github.com/strio-net/strio/reactor"
)

// Timeout bounds every await helper.
const Timeout = 5 * time.Second

// NewReactor creates a reactor that is closed when the test completes.
func NewReactor(t testing.TB) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("creating reactor: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// Record is one inbound record delivered to a read handler.
type Record struct {
	Err  error
	Data []byte
	Aux  []string
}

// Recorder buffers inbound records behind a channel.
type Recorder struct {
	C chan Record
}

// NewRecorder creates a Recorder with room for 64 records.
func NewRecorder() *Recorder {
	return &Recorder{C: make(chan Record, 64)}
}

// Handler returns a ReadHandler that records every delivery. Data is copied
// out of the endpoint's read buffer.
func (r *Recorder) Handler() strio.ReadHandler {
	return func(err error, data []byte, aux []string) {
		r.C <- Record{
			Err:  err,
			Data: append([]byte(nil), data...),
			Aux:  append([]string(nil), aux...),
		}
	}
}

// Await returns the next record, failing the test on timeout.
func (r *Recorder) Await(t testing.TB) Record {
	t.Helper()
	select {
	case rec := <-r.C:
		return rec
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for a record")
		return Record{}
	}
}

// AwaitData collects records until total bytes reach want, failing the test
// on timeout or on a record error.
func (r *Recorder) AwaitData(t testing.TB, want int) []byte {
	t.Helper()
	var got []byte
	for len(got) < want {
		rec := r.Await(t)
		if rec.Err != nil {
			t.Fatalf("read error while waiting for %d bytes: %v", want, rec.Err)
		}
		got = append(got, rec.Data...)
	}
	return got
}

// AcceptRecorder buffers endpoints delivered by an accepter.
type AcceptRecorder struct {
	C chan *strio.Conn
}

// NewAcceptRecorder creates an AcceptRecorder with room for 16 endpoints.
func NewAcceptRecorder() *AcceptRecorder {
	return &AcceptRecorder{C: make(chan *strio.Conn, 16)}
}

// OnNew is the accepter's new-connection handler.
func (a *AcceptRecorder) OnNew(c *strio.Conn) { a.C <- c }

// Await returns the next accepted endpoint, failing the test on timeout.
func (a *AcceptRecorder) Await(t testing.TB) *strio.Conn {
	t.Helper()
	select {
	case c := <-a.C:
		return c
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for an accepted connection")
		return nil
	}
}

// AwaitNone asserts that no endpoint arrives within d.
func (a *AcceptRecorder) AwaitNone(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case <-a.C:
		t.Fatalf("unexpected accepted connection")
	case <-time.After(d):
	}
}

// OpenWait opens c and blocks until the open completes, returning the
// final open result.
func OpenWait(t testing.TB, c *strio.Conn) error {
	t.Helper()
	errC := make(chan error, 1)
	if err := c.Open(func(err error) { errC <- err }); err != nil {
		return err
	}
	select {
	case err := <-errC:
		return err
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for open to complete")
		return nil
	}
}

// CloseWait closes c and blocks until the teardown is acknowledged.
func CloseWait(t testing.TB, c *strio.Conn) {
	t.Helper()
	doneC := make(chan struct{})
	if err := c.Close(func() { close(doneC) }); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-doneC:
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for close to complete")
	}
}

// ShutdownWait shuts acc down and blocks until the completion callback.
func ShutdownWait(t testing.TB, acc strio.Accepter) {
	t.Helper()
	doneC := make(chan struct{})
	if err := acc.Shutdown(func() { close(doneC) }); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-doneC:
	case <-time.After(Timeout):
		t.Fatalf("timed out waiting for accepter shutdown")
	}
}
