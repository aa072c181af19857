package recorder

import "fmt"

// msToVTT formats a millisecond offset as WebVTT's HH:MM:SS.mmm.
func msToVTT(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1_000
	ms -= s * 1_000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// msToASS formats a millisecond offset as SSA/ASS's H:MM:SS.cc (centiseconds).
func msToASS(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1_000
	ms -= s * 1_000
	cs := ms / 10
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// maxCueMs is the longest a cue stays on screen when no following event
// shortens it.
const maxCueMs = 3000

// cueWindows sorts events by t_rel_ms and computes each one's [start,end)
// range: end is min(next event's start, this event's start+3s), and the
// final event always runs the full 3s.
func cueWindows(events []rawEvent) []cue {
	sorted := make([]rawEvent, len(events))
	copy(sorted, events)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].TRelMs < sorted[j-1].TRelMs; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var cues []cue
	for i, ev := range sorted {
		text := cueText(ev)
		if text == "" {
			continue
		}
		end := ev.TRelMs + maxCueMs
		if i+1 < len(sorted) && sorted[i+1].TRelMs < end {
			end = sorted[i+1].TRelMs
		}
		if end <= ev.TRelMs {
			end = ev.TRelMs + 1
		}
		cues = append(cues, cue{start: ev.TRelMs, end: end, text: text, ev: ev})
	}
	return cues
}

type cue struct {
	start, end int64
	text       string
	ev         rawEvent
}

// generateVTT projects a pause-rebased event stream into a WebVTT document.
// Cue text is plain "[KIND] message".
func generateVTT(events []rawEvent) string {
	out := "WEBVTT\n\n"
	for i, c := range cueWindows(events) {
		out += fmt.Sprintf("%d\n%s --> %s\n%s\n\n", i+1, msToVTT(c.start), msToVTT(c.end), c.text)
	}
	return out
}

// generateASS projects a pause-rebased event stream into a minimal Advanced
// SubStation Alpha document with a Default bottom-center style for regular
// event captions and an Overlay style, anchored top-left with no background
// box, for \pos(x,y)-positioned annotation markers.
func generateASS(events []rawEvent) string {
	header := "[Script Info]\n" +
		"ScriptType: v4.00+\n" +
		"WrapStyle: 0\n" +
		"PlayResX: 1920\n" +
		"PlayResY: 1080\n\n" +
		"[V4+ Styles]\n" +
		"Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n" +
		"Style: Default,Arial,36,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,0,2,10,10,20,1\n" +
		"Style: Overlay,Arial,28,&H0000FFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,1,0,7,0,0,0,1\n\n" +
		"[Events]\n" +
		"Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n"

	body := ""
	for _, c := range cueWindows(events) {
		body += fmt.Sprintf("Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", msToASS(c.start), msToASS(c.end), c.text)
		if c.ev.Kind == "annotation" && c.ev.X != nil && c.ev.Y != nil {
			overlay := fmt.Sprintf("{\\pos(%d,%d)}%s", *c.ev.X, *c.ev.Y, c.text)
			body += fmt.Sprintf("Dialogue: 1,%s,%s,Overlay,,0,0,0,,%s\n", msToASS(c.start), msToASS(c.end), overlay)
		}
	}
	return header + body
}

// cueText renders an event's display text as "[KIND] message", or "" when
// the event carries nothing worth showing (internal recorder markers with
// no message).
func cueText(ev rawEvent) string {
	if ev.Message == "" {
		return ""
	}
	return fmt.Sprintf("[%s] %s", ev.Kind, ev.Message)
}
