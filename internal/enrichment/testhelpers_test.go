package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// fakeFetcher answers stage calls from a script keyed by "<path> <text>".
// Each key holds a queue of responses; the last one repeats once the queue is
// drained. Unscripted calls get 200 {"ok":true}.
type fakeFetcher struct {
	mu      sync.Mutex
	script  map[string][]fakeReply
	calls   []fakeCall
	onCall  func(fakeCall)
	inCall  bool
	overlap bool
}

type fakeReply struct {
	status int
	body   string
	err    error
}

type fakeCall struct {
	Path string
	Text string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{script: make(map[string][]fakeReply)}
}

func (f *fakeFetcher) on(path, text string, replies ...fakeReply) *fakeFetcher {
	f.script[path+" "+text] = replies
	return f
}

func (f *fakeFetcher) Send(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	if f.inCall {
		f.overlap = true
	}
	f.inCall = true

	var body struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(req.Body, &body)
	path := req.URL
	if idx := strings.Index(path, "/api/"); idx >= 0 {
		path = path[idx:]
	}
	call := fakeCall{Path: path, Text: body.Text}
	f.calls = append(f.calls, call)

	reply := fakeReply{status: http.StatusOK, body: `{"ok":true}`}
	key := path + " " + body.Text
	if queue := f.script[key]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			f.script[key] = queue[1:]
		}
	}
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}

	f.mu.Lock()
	f.inCall = false
	f.mu.Unlock()

	if reply.err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: reply.err}
	}
	return &Response{StatusCode: reply.status, Body: []byte(reply.body)}, nil
}

func (f *fakeFetcher) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func ok(body string) fakeReply { return fakeReply{status: http.StatusOK, body: body} }

func status(code int, body string) fakeReply { return fakeReply{status: code, body: body} }

func stage(name string) StageSpec {
	return StageSpec{Name: name, Path: "/api/" + name}
}

func records(ids ...string) []Record {
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = Record{ID: id, Text: "text-" + id}
	}
	return out
}

func newTestPipeline(f Fetcher, stages ...StageSpec) *Pipeline {
	policy := NewRetryPolicy(NewInvoker(f, "http://analysis.test"), NewClassifier(""), 0)
	return New(stages, policy, Options{})
}
