package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/session"
)

func consoleEvent(tabID int, e *proto.RuntimeConsoleAPICalled) *capture.ConsoleEvent {
	ev := &capture.ConsoleEvent{
		TabID:     tabID,
		Level:     capture.ConsoleLevel(string(e.Type)),
		Timestamp: time.UnixMilli(int64(e.Timestamp)),
		Args:      make([]json.RawMessage, 0, len(e.Args)),
	}
	for _, a := range e.Args {
		ev.Args = append(ev.Args, remoteValue(a))
	}
	if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 {
		ev.Stack = formatStack(e.StackTrace)
	}
	return ev
}

// remoteValue renders a console argument as JSON: the value itself when
// CDP serialised it, its description otherwise.
func remoteValue(o *proto.RuntimeRemoteObject) json.RawMessage {
	var v any
	switch {
	case o.UnserializableValue != "":
		v = string(o.UnserializableValue)
	case o.Type == proto.RuntimeRemoteObjectTypeUndefined:
		v = "undefined"
	case !o.Value.Nil():
		if data, err := o.Value.MarshalJSON(); err == nil {
			return data
		}
		v = o.Description
	case o.Subtype == proto.RuntimeRemoteObjectSubtypeNull:
		return json.RawMessage("null")
	default:
		v = o.Description
	}
	data, _ := json.Marshal(v)
	return data
}

func formatStack(st *proto.RuntimeStackTrace) string {
	var b strings.Builder
	for _, f := range st.CallFrames {
		name := f.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Fprintf(&b, "    at %s (%s:%d:%d)\n", name, f.URL, f.LineNumber+1, f.ColumnNumber+1)
	}
	return strings.TrimRight(b.String(), "\n")
}

// navigationType maps the CDP view of a main-frame navigation to the
// archive's navigation type.
func navigationType(from string, cdpType proto.PageNavigationType, transition proto.PageTransitionType) string {
	if from == "" || from == "about:blank" {
		return session.NavInitial
	}
	if cdpType == proto.PageNavigationTypeBackForwardCacheRestore {
		return session.NavBackForward
	}
	switch transition {
	case proto.PageTransitionTypeLink, proto.PageTransitionTypeFormSubmit:
		return session.NavLink
	case proto.PageTransitionTypeTyped, proto.PageTransitionTypeAddressBar,
		proto.PageTransitionTypeGenerated, proto.PageTransitionTypeKeyword:
		return session.NavTyped
	case proto.PageTransitionTypeReload:
		return session.NavReload
	}
	return session.NavOther
}
