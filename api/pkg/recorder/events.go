package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/pathfs"
)

// rawEvent is one line of events_<NNN>.jsonl: a recorder-local annotation or
// lifecycle marker, distinct from the higher-volume input trace fabric logs.
type rawEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source"`
	X       *int   `json:"x,omitempty"`
	Y       *int   `json:"y,omitempty"`
	TRelMs  int64  `json:"t_rel_ms"`
}

func eventsLogPath(dir string, seg int) string {
	return filepath.Join(dir, fmt.Sprintf("events_%03d.jsonl", seg))
}

func appendRawEvent(dir string, seg int, ev rawEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return apierr.Wrap(apierr.KindIO, err, "marshal recorder event")
	}
	return pathfs.AppendLine(eventsLogPath(dir, seg), line)
}

func readRawEvents(dir string, seg int) ([]rawEvent, error) {
	path := eventsLogPath(dir, seg)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.IO(err, "read %s", path)
	}
	var events []rawEvent
	for _, line := range splitNonEmptyLines(data) {
		var ev rawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func splitNonEmptyLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// rebasePauses subtracts, for every event, the total duration of every pause
// interval that precedes or contains its t_rel_ms, so the projected subtitle
// timeline never counts dead recording time. An event inside a pause is
// rebased to the pause's start. Mirrors the original recorder's
// adjust_events_for_pauses: offset accumulates (end-start) for pauses fully
// before the event, and (t-start) for the pause containing it.
func rebasePauses(events []rawEvent, pauses []pauseInterval) []rawEvent {
	if len(pauses) == 0 {
		return events
	}
	adjusted := make([]rawEvent, len(events))
	for i, ev := range events {
		var offset int64
		for _, p := range pauses {
			switch {
			case ev.TRelMs >= p.endMs:
				offset += p.endMs - p.startMs
			case ev.TRelMs >= p.startMs:
				offset += ev.TRelMs - p.startMs
			}
		}
		rebased := ev
		rebased.TRelMs = ev.TRelMs - offset
		if rebased.TRelMs < 0 {
			rebased.TRelMs = 0
		}
		adjusted[i] = rebased
	}
	return adjusted
}
