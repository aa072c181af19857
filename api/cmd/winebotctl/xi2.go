package main

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/winebot/controlplane/api/pkg/types"
)

var (
	xi2EventRE  = regexp.MustCompile(`^EVENT type \d+ \(([^)]+)\)`)
	xi2DeviceRE = regexp.MustCompile(`^\s*device:\s*(\d+)\s+\((.+)\)`)
	xi2DetailRE = regexp.MustCompile(`^\s*detail:\s*(\d+)`)
	xi2RootRE   = regexp.MustCompile(`^\s*root:\s*([0-9.+-]+)/([0-9.+-]+)`)
	xi2FlagsRE  = regexp.MustCompile(`^\s*flags:\s*(.*)`)
)

// xi2Current accumulates one in-progress XI2 event block between its
// "EVENT type" header line and the next one.
type xi2Current struct {
	name     string
	deviceID int
	device   string
	detail   int
	hasX     bool
	x, y     int
	flags    string
}

func xi2EventKind(name string) (event string, raw bool) {
	base := name
	if strings.HasPrefix(name, "Raw") {
		raw = true
		base = name[3:]
	}
	switch base {
	case "Motion":
		return "motion", raw
	case "ButtonPress":
		return "button_press", raw
	case "ButtonRelease":
		return "button_release", raw
	case "KeyPress":
		return "key_press", raw
	case "KeyRelease":
		return "key_release", raw
	default:
		return "", raw
	}
}

func buildTraceEvent(sessionID string, cur *xi2Current, seq int64) *types.TraceEvent {
	event, _ := xi2EventKind(cur.name)
	if event == "" {
		return nil
	}
	now := time.Now()
	ev := &types.TraceEvent{
		SchemaVersion:    1,
		TimestampEpochMs: now.UnixMilli(),
		TimestampUTC:     types.NowUTC(now),
		SessionID:        sessionID,
		Source:           "x11",
		Layer:            types.LayerX11,
		Event:            event,
		Origin:           types.OriginUser,
		Tool:             "xinput",
		Seq:              &seq,
		Device:           &types.DeviceInfo{ID: cur.deviceID, Name: cur.device},
	}
	if cur.hasX {
		x, y := cur.x, cur.y
		ev.X = &x
		ev.Y = &y
	}
	if strings.HasPrefix(event, "button") {
		d := cur.detail
		ev.Button = &d
	}
	if strings.HasPrefix(event, "key") {
		d := cur.detail
		ev.Keycode = &d
	}
	if cur.flags != "" {
		ev.Extra = map[string]any{"flags": cur.flags}
	}
	return ev
}

// parseXI2Stream reads xinput test-xi2's text stream from r and invokes
// emit for each fully-parsed, motion-sampled event. Grounded on
// automation/input_trace.py's parse_xi2_stream/input_event_from_xi2.
func parseXI2Stream(r io.Reader, sessionID string, motionSampleMs int64, emit func(types.TraceEvent)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *xi2Current
	var seq int64
	var lastMotionMs int64

	flush := func() {
		if current == nil {
			return
		}
		seq++
		ev := buildTraceEvent(sessionID, current, seq)
		current = nil
		if ev == nil {
			return
		}
		if ev.Event == "motion" && motionSampleMs > 0 {
			if ev.TimestampEpochMs-lastMotionMs < motionSampleMs {
				return
			}
			lastMotionMs = ev.TimestampEpochMs
		}
		emit(*ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if m := xi2EventRE.FindStringSubmatch(line); m != nil {
			flush()
			current = &xi2Current{name: m[1]}
			continue
		}
		if current == nil {
			continue
		}
		if m := xi2DeviceRE.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			current.deviceID = id
			current.device = m[2]
			continue
		}
		if m := xi2DetailRE.FindStringSubmatch(line); m != nil {
			d, _ := strconv.Atoi(m[1])
			current.detail = d
			continue
		}
		if m := xi2RootRE.FindStringSubmatch(line); m != nil {
			xf, errX := strconv.ParseFloat(m[1], 64)
			yf, errY := strconv.ParseFloat(m[2], 64)
			if errX == nil && errY == nil {
				current.hasX = true
				current.x = int(xf + 0.5)
				current.y = int(yf + 0.5)
			}
			continue
		}
		if m := xi2FlagsRE.FindStringSubmatch(line); m != nil {
			current.flags = strings.TrimSpace(m[1])
		}
	}
	flush()
}
