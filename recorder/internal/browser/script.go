package browser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llnl/session-recorder/capture"
	"github.com/llnl/session-recorder/idgen"
)

//go:embed inject.js
var injectJS string

// scriptOptions is passed to inject.js.
type scriptOptions struct {
	SettleDelay int64 `json:"settleDelay"`
}

// bindingNames returns the page-visible binding name and the guard
// property the script sets on it. Both are random per driver so a page
// cannot predict them.
func bindingNames() (binding, guard string) {
	id := strings.ReplaceAll(idgen.New(), "-", "")
	return "__sr_bridge_" + id[len(id)-12:], "__sr_attached_" + id[:8]
}

// newDocumentScript returns the inject.js invocation registered for every
// new document of a tab.
func newDocumentScript(binding, guard string, opts scriptOptions) (string, error) {
	args, err := json.Marshal([]any{binding, guard, opts})
	if err != nil {
		return "", fmt.Errorf("browser: encode script args: %w", err)
	}
	// args is a JSON array; spread it into the call.
	return fmt.Sprintf("(%s)(...%s)", strings.TrimSpace(injectJS), args), nil
}

// envelope is what the page posts through the binding: either half of an
// action or a one-way page event.
type envelope struct {
	Action json.RawMessage    `json:"action"`
	Event  *capture.PageEvent `json:"event"`
}

// decodeEnvelope parses a binding payload. Exactly one of the results is
// non-nil on success.
func decodeEnvelope(data []byte, tabID int) (*capture.Message, *capture.PageEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("browser: decode binding payload: %w", err)
	}
	if env.Event != nil {
		env.Event.TabID = tabID
		return nil, env.Event, nil
	}
	if len(env.Action) == 0 {
		return nil, nil, fmt.Errorf("browser: binding payload without action or event")
	}
	msg, err := capture.ParseMessage(env.Action)
	if err != nil {
		return nil, nil, err
	}
	msg.TabID = tabID
	return msg, nil, nil
}
