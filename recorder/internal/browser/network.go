package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/session"
)

// request tracks one network request between its CDP events.
type request struct {
	method    string
	initiator string
	rtype     string
	wall      time.Time
	mono      proto.MonotonicTime
	resp      *proto.NetworkResponse
	respMono  proto.MonotonicTime
}

// network bridges the CDP Network domain of one tab to the handler. Its
// callbacks run on the tab's event goroutine, so the map needs no lock.
type network struct {
	tabID    int
	page     *rod.Page
	h        capture.Handler
	requests map[proto.NetworkRequestID]*request
}

func newNetwork(tabID int, page *rod.Page, h capture.Handler) *network {
	return &network{tabID: tabID, page: page, h: h, requests: make(map[proto.NetworkRequestID]*request)}
}

func (n *network) requestWillBeSent(e *proto.NetworkRequestWillBeSent) {
	if prev, ok := n.requests[e.RequestID]; ok && e.RedirectResponse != nil {
		// A redirect reuses the request id; the 3xx hop is logged on its own.
		prev.resp = e.RedirectResponse
		prev.respMono = e.Timestamp
		n.emit(e.RequestID, prev, e.Timestamp, "", false)
	}
	r := &request{
		rtype: strings.ToLower(string(e.Type)),
		wall:  e.WallTime.Time(),
		mono:  e.Timestamp,
	}
	if e.Request != nil {
		r.method = e.Request.Method
	}
	if e.Initiator != nil {
		r.initiator = e.Initiator.URL
		if r.initiator == "" {
			r.initiator = string(e.Initiator.Type)
		}
	}
	n.requests[e.RequestID] = r
}

func (n *network) responseReceived(e *proto.NetworkResponseReceived) {
	r, ok := n.requests[e.RequestID]
	if !ok {
		return
	}
	r.resp = e.Response
	r.respMono = e.Timestamp
	if r.rtype == "" {
		r.rtype = strings.ToLower(string(e.Type))
	}
}

func (n *network) loadingFinished(e *proto.NetworkLoadingFinished) {
	r, ok := n.requests[e.RequestID]
	if !ok {
		return
	}
	delete(n.requests, e.RequestID)
	if r.resp == nil {
		return
	}
	n.emit(e.RequestID, r, e.Timestamp, "", true)
}

func (n *network) loadingFailed(e *proto.NetworkLoadingFailed) {
	r, ok := n.requests[e.RequestID]
	if !ok {
		return
	}
	delete(n.requests, e.RequestID)
	n.emit(e.RequestID, r, e.Timestamp, e.ErrorText, false)
}

func (n *network) emit(id proto.NetworkRequestID, r *request, finished proto.MonotonicTime, errText string, withBody bool) {
	resp := &capture.Response{
		TabID:        n.tabID,
		Method:       r.method,
		ResourceType: r.rtype,
		Initiator:    r.initiator,
		Timestamp:    r.wall,
		Error:        errText,
	}
	var rt *proto.NetworkResourceTiming
	if r.resp != nil {
		resp.URL = r.resp.URL
		resp.Status = r.resp.Status
		resp.StatusText = r.resp.StatusText
		resp.ContentType = contentType(r.resp)
		resp.FromCache = r.resp.FromDiskCache || r.resp.FromServiceWorker || r.resp.FromPrefetchCache
		resp.Timestamp = r.wall.Add((r.respMono - r.mono).Duration())
		rt = r.resp.Timing
	}
	resp.Timing = resourceTiming(rt, r.wall, finished)
	if withBody {
		page := n.page
		resp.Body = func(ctx context.Context) ([]byte, error) {
			return responseBody(page.Context(ctx), id)
		}
	}
	n.h.Response(resp)
}

func contentType(r *proto.NetworkResponse) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, "content-type") {
			return v.Str()
		}
	}
	return r.MIMEType
}

func responseBody(page *rod.Page, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("browser: response body: %w", err)
	}
	if res.Base64Encoded {
		data, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return nil, fmt.Errorf("browser: response body: %w", err)
		}
		return data, nil
	}
	return []byte(res.Body), nil
}

// resourceTiming converts CDP timing to milliseconds. Start is the absolute
// request time in Unix milliseconds. Phases CDP reports as -1 stay absent.
func resourceTiming(rt *proto.NetworkResourceTiming, wall time.Time, finished proto.MonotonicTime) session.Timing {
	t := session.Timing{Start: float64(wall.UnixMilli())}
	if rt == nil {
		return t
	}
	if rt.DNSStart >= 0 && rt.DNSEnd >= rt.DNSStart {
		v := rt.DNSEnd - rt.DNSStart
		t.DNS = &v
	}
	if rt.ConnectStart >= 0 && rt.ConnectEnd >= rt.ConnectStart {
		v := rt.ConnectEnd - rt.ConnectStart
		t.Connect = &v
	}
	if rt.ReceiveHeadersEnd > 0 && rt.SendEnd >= 0 && rt.ReceiveHeadersEnd >= rt.SendEnd {
		t.TTFB = rt.ReceiveHeadersEnd - rt.SendEnd
	}
	if finished > 0 && rt.RequestTime > 0 {
		total := (float64(finished) - rt.RequestTime) * 1000
		if total >= 0 {
			t.Total = total
			if d := total - rt.ReceiveHeadersEnd; rt.ReceiveHeadersEnd > 0 && d >= 0 {
				t.Download = d
			}
		}
	}
	return t
}
