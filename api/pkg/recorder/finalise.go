package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/types"
)

// ConcatRunner joins the recorded parts list into a single segment video
// file. Production wires ffmpeg's concat demuxer; tests inject a stub that
// just touches the output path.
type ConcatRunner func(partsListPath, outputPath string) error

// DefaultConcatRunner shells out to ffmpeg's concat demuxer, matching the
// part-list format written by startPartLocked (one "file '<path>'" line per
// part).
func DefaultConcatRunner(partsListPath, outputPath string) error {
	cmd := exec.Command("ffmpeg",
		"-f", "concat", "-safe", "0",
		"-i", partsListPath,
		"-c", "copy",
		"-y", outputPath,
	)
	return cmd.Run()
}

// SubtitleMuxer embeds the ASS/VTT sidecars into videoPath's MKV container as
// subtitle tracks and stamps container-level metadata. Production shells out
// to ffmpeg; tests inject a stub.
type SubtitleMuxer func(videoPath, assPath, vttPath string, metadata map[string]string) error

// DefaultSubtitleMuxer muxes the overlay (ASS) and event (VTT) subtitle
// tracks into videoPath via a temp file + rename, matching
// automation/recorder/ffmpeg.py's mux_subtitles.
func DefaultSubtitleMuxer(videoPath, assPath, vttPath string, metadata map[string]string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("mux subtitles: %s not found: %w", videoPath, err)
	}

	tempOutput := videoPath + ".muxed.mkv"
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", assPath,
		"-i", vttPath,
		"-map", "0:v",
		"-map", "1:s",
		"-map", "2:s",
		"-c", "copy",
		"-metadata:s:s:0", "title=Overlays (ASS)",
		"-metadata:s:s:1", "title=Events (VTT)",
		"-disposition:s:0", "default",
	}
	for key, value := range metadata {
		if value == "" {
			continue
		}
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", key, value))
	}
	args = append(args, tempOutput)

	cmd := exec.Command("ffmpeg", args...)
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tempOutput)
		return err
	}
	return os.Rename(tempOutput, videoPath)
}

// containerMetadata builds the MKV global metadata tags from a segment
// manifest, matching __main__.py's cleanup() meta dict.
func containerMetadata(manifest types.SegmentManifest) map[string]string {
	meta := map[string]string{
		"title":             manifest.SessionID,
		"encoder":           "WineBot Recorder",
		"creation_time":     types.NowUTC(time.Now()),
		"WINEBOT_SESSION_ID": manifest.SessionID,
		"WINEBOT_HOSTNAME":  manifest.Hostname,
		"WINEBOT_DISPLAY":   manifest.Display,
	}
	if manifest.GitSHA != nil {
		meta["WINEBOT_GIT_SHA"] = *manifest.GitSHA
	}
	return meta
}

// finalise concatenates a segment's parts, projects subtitles, and updates
// the segment manifest with end-of-recording metadata. Runs off the
// Supervisor's lock in its own goroutine so Stop() returns immediately.
func (s *Supervisor) finalise(dir string, seg int, manifest types.SegmentManifest, pauses []pauseInterval, pauseStart *int64) {
	if dir == "" {
		return
	}
	if pauseStart != nil {
		pauses = append(pauses, pauseInterval{startMs: *pauseStart, endMs: time.Now().UnixMilli()})
	}

	videoPath := filepath.Join(dir, fmt.Sprintf("video_%03d.mkv", seg))
	partsList := partsListPath(dir, seg)

	if err := s.concat(partsList, videoPath); err != nil {
		log.Error().Err(err).Int("segment", seg).Msg("failed to concatenate segment parts")
		s.publishLifecycle(seg, "recorder_finalise_failed", err.Error())
		_ = os.Remove(recorderPIDPath(dir))
		_ = os.Remove(ffmpegPIDPath(dir))
		if err := pathfs.AtomicWriteSmall(recorderStatePath(dir), []byte(StateIdle)); err != nil {
			log.Warn().Err(err).Msg("failed to persist recorder.state")
		}
		return
	}

	events, err := readRawEvents(dir, seg)
	if err != nil {
		log.Warn().Err(err).Int("segment", seg).Msg("failed to read segment events for subtitle projection")
		events = nil
	}
	rebased := rebasePauses(events, pauses)

	vttPath := filepath.Join(dir, fmt.Sprintf("events_%03d.vtt", seg))
	if err := pathfs.AtomicWriteSmall(vttPath, []byte(generateVTT(rebased))); err != nil {
		log.Warn().Err(err).Int("segment", seg).Msg("failed to write vtt subtitles")
	}
	assPath := filepath.Join(dir, fmt.Sprintf("events_%03d.ass", seg))
	if err := pathfs.AtomicWriteSmall(assPath, []byte(generateASS(rebased))); err != nil {
		log.Warn().Err(err).Int("segment", seg).Msg("failed to write ass subtitles")
	}

	if err := s.mux(videoPath, assPath, vttPath, containerMetadata(manifest)); err != nil {
		log.Error().Err(err).Int("segment", seg).Msg("failed to mux subtitles into segment")
	}

	manifest.EndTimeEpoch = time.Now().Unix()
	manifest.EndTimeISO = types.NowUTC(time.Now())
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		if err := pathfs.AtomicWriteSmall(segmentManifestPath(dir, seg), data); err != nil {
			log.Warn().Err(err).Int("segment", seg).Msg("failed to update segment manifest")
		}
	}

	_ = os.Remove(recorderPIDPath(dir))
	if err := pathfs.AtomicWriteSmall(recorderStatePath(dir), []byte(StateIdle)); err != nil {
		log.Warn().Err(err).Msg("failed to persist recorder.state")
	}

	s.publishLifecycle(seg, "recorder_finalised", "")
}

func (s *Supervisor) publishLifecycle(seg int, kind, message string) {
	if s.bus == nil {
		return
	}
	ev := types.LifecycleEvent{
		SchemaVersion: types.SchemaVersion,
		TimestampUTC:  types.NowUTC(time.Now()),
		Kind:          kind,
		Message:       message,
		Source:        "recorder",
		Extra:         map[string]any{"segment": seg},
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(eventbus.SubjectLifecycleEvent, payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish recorder lifecycle event")
	}
	if kind == "recorder_finalised" {
		if err := s.bus.Publish(eventbus.SubjectRecorderSegmentFinalised, payload); err != nil {
			log.Warn().Err(err).Msg("failed to publish segment finalised event")
		}
	}
}

// DiskWatchdog polls free space under a session directory every tick and,
// once it drops below a floor, forces the recorder to stop so a partially
// written segment can still be finalised cleanly.
type DiskWatchdog struct {
	sup      *Supervisor
	floorMiB uint64
	warned   bool
}

// NewDiskWatchdog constructs a watchdog that force-stops sup's active
// recording once free space under its session directory drops below
// floorMiB.
func NewDiskWatchdog(sup *Supervisor, floorMiB uint64) *DiskWatchdog {
	return &DiskWatchdog{sup: sup, floorMiB: floorMiB}
}

// Tick checks free space and force-stops the active recording once when the
// floor is first breached; it re-arms once free space recovers.
func (w *DiskWatchdog) Tick() {
	_, dir, seg := w.sup.Status()
	if dir == "" {
		w.warned = false
		return
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("disk watchdog: failed to stat filesystem")
		return
	}
	freeMiB := usage.Free / (1024 * 1024)
	if freeMiB >= w.floorMiB {
		w.warned = false
		return
	}
	if w.warned {
		return
	}
	w.warned = true

	log.Warn().Uint64("free_mib", freeMiB).Uint64("floor_mib", w.floorMiB).Msg("disk space below floor, forcing recorder stop")
	w.sup.publishLifecycle(seg, "recorder_force_stop",
		fmt.Sprintf("free space %d MiB below floor %d MiB", freeMiB, w.floorMiB))
	if _, err := w.sup.Stop(); err != nil {
		log.Error().Err(err).Msg("disk watchdog: forced stop failed")
	}
}
