package captions

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseSRT reads an SRT document into caption units. Cue numbers are ignored;
// malformed blocks are skipped rather than failing the whole file.
func ParseSRT(r io.Reader) ([]Unit, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	var units []Unit
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		// The timing line may be the first or second line depending on
		// whether the block carries a cue number.
		timingIndex := -1
		for i, line := range lines[:min(2, len(lines))] {
			if strings.Contains(line, "-->") {
				timingIndex = i
				break
			}
		}
		if timingIndex < 0 || timingIndex+1 >= len(lines) {
			continue
		}
		start, end, err := parseTimingLine(lines[timingIndex])
		if err != nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(lines[timingIndex+1:], " "))
		if text == "" || end <= start {
			continue
		}
		units = append(units, Unit{Text: text, Start: start, End: end})
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no usable cues in subtitle file")
	}
	return units, nil
}

// ParseVTT reads a WebVTT document into caption units. The WEBVTT header,
// NOTE and STYLE blocks, and cue settings after timestamps are skipped.
func ParseVTT(r io.Reader) ([]Unit, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var units []Unit
	var pendingStart, pendingEnd float64
	var pendingText []string
	inCue := false

	flush := func() {
		if inCue {
			text := strings.TrimSpace(strings.Join(pendingText, " "))
			if text != "" && pendingEnd > pendingStart {
				units = append(units, Unit{Text: text, Start: pendingStart, End: pendingEnd})
			}
		}
		inCue = false
		pendingText = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			flush()
			start, end, err := parseTimingLine(line)
			if err != nil {
				continue
			}
			pendingStart, pendingEnd = start, end
			inCue = true
		case inCue:
			pendingText = append(pendingText, stripVTTTags(line))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vtt: %w", err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no usable cues in subtitle file")
	}
	return units, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	// VTT cue settings (align, position) follow the end timestamp.
	endText := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endText) == 0 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	end, err := parseTimestamp(endText[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts both SRT (00:00:01,500) and VTT (00:01.500 or
// 00:00:01.500) timestamp shapes.
func parseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ",", ".")
	clock, fraction, _ := strings.Cut(value, ".")

	hms := strings.Split(clock, ":")
	var hours, minutes, seconds int
	var err error
	switch len(hms) {
	case 3:
		if hours, err = strconv.Atoi(hms[0]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		hms = hms[1:]
		fallthrough
	case 2:
		minutes, err = strconv.Atoi(hms[0])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		seconds, err = strconv.Atoi(hms[1])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
	default:
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	total := float64(hours*3600 + minutes*60 + seconds)
	if fraction != "" {
		frac, err := strconv.ParseFloat("0."+fraction, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		total += frac
	}
	return total, nil
}

func stripVTTTags(line string) string {
	var b strings.Builder
	depth := 0
	for _, r := range line {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
