package recorder

import (
	"time"

	"github.com/llnl/session-recorder/recorder/sink"
)

// Stats is the data of the periodic stats event.
type Stats struct {
	// Duration is the recorded time in milliseconds, pauses excluded.
	Duration       int64   `json:"duration"`
	ActionCount    int     `json:"actionCount"`
	CurrentURL     string  `json:"currentUrl,omitempty"`
	Resources      int     `json:"resources"`
	StoredBytes    int64   `json:"storedBytes"`
	DedupRatio     float64 `json:"dedupRatio"`
	NetworkEntries int     `json:"networkEntries"`
	ConsoleEntries int     `json:"consoleEntries"`
}

func (rn *run) stats() Stats {
	st := Stats{
		Duration:    rn.activeDuration().Milliseconds(),
		ActionCount: rn.actionCount(),
		CurrentURL:  rn.currentURL(),
	}
	if rn.store != nil {
		rs := rn.store.Stats()
		st.Resources = rs.Resources
		st.StoredBytes = rs.StoredBytes
		st.DedupRatio = rs.DedupRatio
	}
	if rn.network != nil {
		st.NetworkEntries = rn.network.Count()
	}
	if rn.console != nil {
		st.ConsoleEntries = rn.console.Count()
	}
	return st
}

func (rn *run) statsLoop(interval time.Duration) {
	defer close(rn.statsDone)
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-rn.ctx.Done():
			return
		case <-t.C:
			if m := rn.getMode(); m == modeRecording || m == modePaused {
				rn.r.emit(rn.id, sink.TypeStats, rn.stats())
			}
		}
	}
}
