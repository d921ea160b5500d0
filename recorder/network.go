package recorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/session"
)

// Response implements capture.Handler. Bodies are fetched on the network
// goroutine; when it falls behind the entry is logged without a body.
func (rn *run) Response(resp *capture.Response) {
	rn.nmu.Lock()
	defer rn.nmu.Unlock()
	if rn.nclosed {
		return
	}
	select {
	case rn.responses <- resp:
	default:
		rn.logger.Debug("recorder: network backlog, body skipped", "url", resp.URL)
		resp.Body = nil
		rn.logResponse(resp)
	}
}

func (rn *run) logResponses() {
	defer close(rn.netDone)
	for resp := range rn.responses {
		rn.logResponse(resp)
	}
}

func (rn *run) closeResponses() {
	rn.nmu.Lock()
	if !rn.nclosed {
		rn.nclosed = true
		close(rn.responses)
	}
	rn.nmu.Unlock()
	<-rn.netDone
}

// logResponse appends one network entry, storing the body first when it
// is worth replaying.
func (rn *run) logResponse(resp *capture.Response) {
	tabID := resp.TabID
	e := session.NetworkEntry{
		Timestamp:    session.At(resp.Timestamp.Truncate(time.Millisecond)),
		URL:          resp.URL,
		Method:       resp.Method,
		Status:       resp.Status,
		StatusText:   resp.StatusText,
		ContentType:  resp.ContentType,
		ResourceType: resp.ResourceType,
		Initiator:    resp.Initiator,
		Timing:       resp.Timing,
		FromCache:    resp.FromCache,
		Error:        resp.Error,
		TabID:        &tabID,
	}
	if e.Timing.Start > 0 {
		e.Timing.Start -= float64(rn.start.UnixMilli())
		if e.Timing.Start < 0 {
			e.Timing.Start = 0
		}
	}

	if resp.Body != nil && capture.WantBody(resp.Status, resp.ContentType) {
		ctx, cancel := context.WithTimeout(rn.ctx, 10*time.Second)
		data, err := resp.Body(ctx)
		cancel()
		switch {
		case err != nil:
			rn.logger.Debug("recorder: response body unavailable", "url", resp.URL, "error", err)
		case rn.maxBody > 0 && int64(len(data)) > rn.maxBody:
			e.Size = int64(len(data))
			rn.logger.Debug("recorder: response body too large",
				"url", resp.URL,
				"size", humanize.Bytes(uint64(len(data))),
				"limit", humanize.Bytes(uint64(rn.maxBody)),
			)
		default:
			e.Size = int64(len(data))
			key, err := rn.store.Put(resp.URL, data, resp.ContentType)
			if err != nil {
				rn.logger.Warn("recorder: store response body", "url", resp.URL, "error", err)
				break
			}
			e.SHA1 = key
			rn.urls.Set(resp.URL, key)
		}
	}

	if err := rn.network.Append(e); err != nil {
		rn.logger.Debug("recorder: network log", "error", err)
	}
}

// Console implements capture.Handler.
func (rn *run) Console(ev *capture.ConsoleEvent) {
	tabID := ev.TabID
	args := ev.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	e := session.ConsoleEntry{
		Level:     capture.ConsoleLevel(ev.Level),
		Timestamp: session.At(ev.Timestamp.Truncate(time.Millisecond)),
		Args:      args,
		Stack:     ev.Stack,
		TabID:     &tabID,
	}
	if err := rn.console.Append(e); err != nil {
		rn.logger.Debug("recorder: console log", "error", err)
	}
}
