package ableton

import (
	"context"
	"encoding/json"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nadzzz/liveprompt/internal/config"
	"github.com/nadzzz/liveprompt/internal/fault"
)

// fakeScript is a minimal remote-script stand-in. reply builds the response
// object for each request.
type fakeScript struct {
	ln      net.Listener
	accepts atomic.Int32
	reply   func(req request) any
	split   bool
}

func startFakeScript(t *testing.T, split bool, reply func(req request) any) *fakeScript {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeScript{ln: ln, reply: reply, split: split}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fs.accepts.Add(1)
			go fs.serve(conn)
		}
	}()
	return fs
}

func (fs *fakeScript) serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return
		}
		out, _ := json.Marshal(fs.reply(req))
		if fs.split && len(out) > 4 {
			_, _ = conn.Write(out[:4])
			time.Sleep(10 * time.Millisecond)
			out = out[4:]
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func newClient(addr string) *Client {
	return New(config.DeviceConfig{Address: addr, DialTimeout: time.Second, Timeout: time.Second})
}

func TestSendSuccess(t *testing.T) {
	received := make(chan request, 1)
	fs := startFakeScript(t, true, func(req request) any {
		received <- req
		return map[string]any{"status": "success", "result": map[string]any{"tempo": 120.0}}
	})

	c := newClient(fs.ln.Addr().String())
	defer c.Close()

	result, err := c.Send(context.Background(), "set_tempo", map[string]any{"tempo": 120.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(result, map[string]any{"tempo": 120.0}) {
		t.Fatalf("result = %#v", result)
	}
	got := <-received
	if got.Type != "set_tempo" || !reflect.DeepEqual(got.Params, map[string]any{"tempo": 120.0}) {
		t.Fatalf("device received %+v", got)
	}
}

func TestSendNilParamsSendsEmptyObject(t *testing.T) {
	var raw atomic.Value
	fs := startFakeScript(t, false, func(req request) any {
		raw.Store(req.Params)
		return map[string]any{"status": "success", "result": map[string]any{}}
	})

	c := newClient(fs.ln.Addr().String())
	defer c.Close()

	if _, err := c.Send(context.Background(), "start_playback", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params, _ := raw.Load().(map[string]any)
	if params == nil {
		t.Fatal("device received null params, want {}")
	}
}

func TestSendRejected(t *testing.T) {
	fs := startFakeScript(t, false, func(req request) any {
		return map[string]any{"status": "error", "message": "No clip in slot"}
	})

	c := newClient(fs.ln.Addr().String())
	defer c.Close()

	_, err := c.Send(context.Background(), "add_notes_to_clip", map[string]any{"track_index": 0, "clip_index": 0})
	if !fault.Is(err, fault.DeviceRejected) {
		t.Fatalf("error kind = %v (%v), want device_rejected", fault.KindOf(err), err)
	}
	if err.Error() != "No clip in slot" {
		t.Fatalf("error = %q, want device text verbatim", err.Error())
	}

	// A rejection leaves the socket usable.
	if _, err := c.Send(context.Background(), "get_session_info", nil); !fault.Is(err, fault.DeviceRejected) {
		t.Fatalf("second send: %v", err)
	}
	if n := fs.accepts.Load(); n != 1 {
		t.Fatalf("dialled %d times, want 1", n)
	}
}

func TestSendUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := newClient(addr)
	_, err = c.Send(context.Background(), "get_session_info", nil)
	if !fault.Is(err, fault.DeviceUnavailable) {
		t.Fatalf("error kind = %v (%v), want device_unavailable", fault.KindOf(err), err)
	}
}

func TestSendTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	c := New(config.DeviceConfig{Address: ln.Addr().String(), Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err = c.Send(context.Background(), "get_session_info", nil)
	if !fault.Is(err, fault.DeviceUnavailable) {
		t.Fatalf("error kind = %v (%v), want device_unavailable on timeout", fault.KindOf(err), err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("send hung for %s", time.Since(start))
	}
}

func TestSendRedialsAfterTransportFailure(t *testing.T) {
	var first atomic.Bool
	first.Store(true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				dec := json.NewDecoder(conn)
				var req request
				if err := dec.Decode(&req); err != nil {
					return
				}
				if first.CompareAndSwap(true, false) {
					return // drop the connection without answering
				}
				_, _ = conn.Write([]byte(`{"status":"success","result":{"ok":true}}`))
			}(conn)
		}
	}()

	c := newClient(ln.Addr().String())
	defer c.Close()

	if _, err := c.Send(context.Background(), "get_session_info", nil); !fault.Is(err, fault.DeviceUnavailable) {
		t.Fatalf("first send: %v, want device_unavailable", err)
	}
	result, err := c.Send(context.Background(), "get_session_info", nil)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if !reflect.DeepEqual(result, map[string]any{"ok": true}) {
		t.Fatalf("result = %#v", result)
	}
}

func TestSendSerializesExchanges(t *testing.T) {
	fs := startFakeScript(t, false, func(req request) any {
		// Echo the request back so each caller can verify it got its own answer.
		return map[string]any{"status": "success", "result": req.Params["n"]}
	})

	c := newClient(fs.ln.Addr().String())
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			got, err := c.Send(context.Background(), "get_track_info", map[string]any{"n": n})
			if err != nil {
				errs <- err
				return
			}
			if got != n {
				errs <- &mismatch{want: n, got: got}
			}
		}(float64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if n := fs.accepts.Load(); n != 1 {
		t.Fatalf("dialled %d times, want a single shared socket", n)
	}
}

type mismatch struct {
	want float64
	got  any
}

func (m *mismatch) Error() string {
	b, _ := json.Marshal(map[string]any{"want": m.want, "got": m.got})
	return "response matched to wrong request: " + string(b)
}

func TestSettleDelayOnlyForSetters(t *testing.T) {
	fs := startFakeScript(t, false, func(req request) any {
		return map[string]any{"status": "success", "result": nil}
	})

	c := New(config.DeviceConfig{Address: fs.ln.Addr().String(), Timeout: time.Second, SettleDelay: 40 * time.Millisecond})
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := c.Send(context.Background(), "get_session_info", nil); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d >= 40*time.Millisecond {
		t.Errorf("getter took %s, expected no settle delay", d)
	}

	start = time.Now()
	if _, err := c.Send(context.Background(), "start_playback", nil); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 80*time.Millisecond {
		t.Errorf("setter took %s, expected settle delay before and after", d)
	}
}
