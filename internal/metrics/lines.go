package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedLine is returned by DecodeLines for lines that do not match
// timestamp_micros,target,success,latency_us.
var ErrMalformedLine = errors.New("malformed metric line")

// AppendLine appends the wire encoding of r, newline included, to dst.
func AppendLine(dst []byte, r Record) []byte {
	dst = strconv.AppendInt(dst, r.TimestampMicros, 10)
	dst = append(dst, ',')
	dst = append(dst, r.Target...)
	dst = append(dst, ',')
	dst = strconv.AppendBool(dst, r.Success)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, r.LatencyMicros, 10)
	return append(dst, '\n')
}

// EncodeLines renders a batch in the line-oriented wire format.
func EncodeLines(records []Record) []byte {
	if len(records) == 0 {
		return nil
	}
	// timestamp(16) + target + bool(5) + latency(~8) + separators.
	buf := make([]byte, 0, len(records)*48)
	for _, r := range records {
		buf = AppendLine(buf, r)
	}
	return buf
}

// DecodeLines parses a payload produced by EncodeLines. Empty lines are
// skipped; any other deviation from the four-field layout is an error.
func DecodeLines(data []byte) ([]Record, error) {
	var out []Record
	lineNo := 0
	for len(data) > 0 {
		lineNo++
		var line []byte
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			line, data = data[:idx], data[idx+1:]
		} else {
			line, data = data, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseLine(line []byte) (Record, error) {
	fields := bytes.Split(line, []byte{','})
	if len(fields) != 4 {
		return Record{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedLine, len(fields))
	}
	ts, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
	}
	if len(fields[1]) == 0 {
		return Record{}, fmt.Errorf("%w: empty target", ErrMalformedLine)
	}
	success, err := strconv.ParseBool(string(fields[2]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: success: %v", ErrMalformedLine, err)
	}
	latency, err := strconv.ParseUint(string(fields[3]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: latency: %v", ErrMalformedLine, err)
	}
	return Record{
		TimestampMicros: ts,
		Target:          string(fields[1]),
		Success:         success,
		LatencyMicros:   latency,
	}, nil
}
