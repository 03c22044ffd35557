package whisper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var segmentLinePattern = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})\.(\d{3}) --> (\d+):(\d{2}):(\d{2})\.(\d{3})\]\s?(.*)$`)

type jsonOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseSegmentLine parses a realtime line such as
// "[00:00:01.000 --> 00:00:03.500]   hello there".
func ParseSegmentLine(line string) (Segment, bool) {
	match := segmentLinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return Segment{}, false
	}

	return Segment{
		Start: clockToDuration(match[1:5]),
		End:   clockToDuration(match[5:9]),
		Text:  match[9],
	}, true
}

func ParseJSONOutput(content []byte) (Transcription, error) {
	var out jsonOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return Transcription{}, fmt.Errorf("decode whisper json output: %w", err)
	}

	segments := make([]Segment, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		segments = append(segments, Segment{
			Start: time.Duration(item.Offsets.From) * time.Millisecond,
			End:   time.Duration(item.Offsets.To) * time.Millisecond,
			Text:  item.Text,
		})
	}

	return Transcription{Language: out.Result.Language, Segments: segments}, nil
}

func clockToDuration(parts []string) time.Duration {
	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])
	seconds, _ := strconv.Atoi(parts[2])
	millis, _ := strconv.Atoi(parts[3])

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond
}
