package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gnssmon/internal/replay"
	"gnssmon/internal/rfstats"
	"gnssmon/internal/ubx"
)

type captureSummary struct {
	Segments    int
	Frames      int
	Invalid     int
	Malformed   int
	MaxDuration time.Duration
	Counts      map[string]int
	RF          []rfstats.Block
}

func summarizeCapture(records []replay.Record) captureSummary {
	s := captureSummary{Counts: map[string]int{}}
	if len(records) == 0 {
		return s
	}

	// Every sample of the capture goes into the statistics.
	rf := rfstats.New(len(records))
	origin := time.Duration(0)
	hasFrames := false
	segments := 0

	for _, r := range records {
		if r.Frame == nil {
			segments++
			origin = r.At
			continue
		}
		hasFrames = true

		s.Frames++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		f, ok := singleFrame(r.Frame)
		if !ok {
			s.Invalid++
			continue
		}
		s.Counts[ubx.Name(f.Class, f.ID)]++
		for _, msg := range ubx.Interpret(f) {
			if u, ok := msg.(ubx.Unknown); ok && u.Malformed {
				s.Malformed++
				continue
			}
			rf.Observe(msg)
		}
	}
	if segments == 0 && hasFrames {
		segments = 1
	}
	s.Segments = segments
	s.RF = rf.Blocks()
	return s
}

// singleFrame reports whether b holds exactly one checksum-valid UBX frame.
func singleFrame(b []byte) (ubx.Frame, bool) {
	frames := ubx.NewDecoder().Feed(b)
	if len(frames) != 1 {
		return ubx.Frame{}, false
	}
	return frames[0], true
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "invalid_frames: %d\n", s.Invalid)
	fmt.Fprintf(w, "malformed_messages: %d\n", s.Malformed)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	names := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "message_counts:\n")
	for _, k := range names {
		fmt.Fprintf(w, "  %s: %d\n", k, s.Counts[k])
	}

	fmt.Fprintf(w, "rf_blocks:\n")
	for _, b := range s.RF {
		fmt.Fprintf(w, "  block %d (%s): samples=%d\n", b.BlockID, b.Band, b.Samples)
		fmt.Fprintf(w, "    noise_per_ms: mean=%.1f stddev=%.1f p95=%.0f min=%.0f max=%.0f\n",
			b.NoisePerMS.Mean, b.NoisePerMS.StdDev, b.NoisePerMS.P95, b.NoisePerMS.Min, b.NoisePerMS.Max)
		fmt.Fprintf(w, "    agc_cnt: mean=%.1f stddev=%.1f p95=%.0f min=%.0f max=%.0f\n",
			b.AGCCnt.Mean, b.AGCCnt.StdDev, b.AGCCnt.P95, b.AGCCnt.Min, b.AGCCnt.Max)
		fmt.Fprintf(w, "    jam_ind: mean=%.1f stddev=%.1f p95=%.0f min=%.0f max=%.0f\n",
			b.JamInd.Mean, b.JamInd.StdDev, b.JamInd.P95, b.JamInd.Min, b.JamInd.Max)
	}
	return nil
}
