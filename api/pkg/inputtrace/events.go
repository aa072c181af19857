package inputtrace

import (
	"encoding/json"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/types"
)

func marshalEvent(ev types.TraceEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIO, err, "marshal trace event")
	}
	return data, nil
}

// EventsQuery is events(limit, since_epoch_ms?, source?, origin?).
type EventsQuery struct {
	Limit         int
	SinceEpochMs  int64
	Source        string
	Origin        string
}

// Events tails a source's log, parses each line as JSON (dropping lines
// that fail to parse), filters by since_epoch_ms and origin, and returns
// the last Limit matching entries in chronological order.
func (m *Manager) Events(name Name, q EventsQuery) ([]types.TraceEvent, error) {
	if q.Limit < 1 {
		return nil, apierr.BadRequest("limit must be >= 1")
	}
	dir, err := m.sessions.EnsureSession()
	if err != nil {
		return nil, err
	}

	lines, err := pathfs.TailLines(m.LogPath(dir, name), tailScanDepth(q.Limit))
	if err != nil {
		return nil, err
	}

	var matched []types.TraceEvent
	for _, line := range lines {
		var ev types.TraceEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.TimestampEpochMs < q.SinceEpochMs {
			continue
		}
		if q.Source != "" && ev.Source != q.Source {
			continue
		}
		if q.Origin != "" && string(ev.Origin) != q.Origin {
			continue
		}
		matched = append(matched, ev)
	}

	if len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}
	return matched, nil
}

// tailScanDepth over-reads relative to the requested limit since filtering
// may discard lines; a generous multiplier avoids a second pass in the
// common case without scanning the whole file.
func tailScanDepth(limit int) int {
	depth := limit * 4
	if depth < 200 {
		depth = 200
	}
	return depth
}
