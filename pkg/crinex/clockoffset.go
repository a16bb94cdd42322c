package crinex

import (
	"fmt"
	"strconv"
	"strings"
)

// parseClockOffsetLine consumes the single ClockOffsetDescriptor line
// that follows every CRINEX epoch descriptor (blank when the epoch
// carries no receiver clock offset) and advances nd accordingly. It
// returns the recovered offset in seconds, or nil when the epoch has
// none.
func parseClockOffsetLine(line string, nd *NumDiff) (*float64, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	if idx := strings.IndexByte(trimmed, '&'); idx >= 0 {
		order, err := strconv.Atoi(trimmed[:idx])
		if err != nil {
			return nil, wrapErr(ClockOffsetOrder, false, err, "parsing clock offset reinit order: %q", line)
		}
		value, err := strconv.ParseInt(trimmed[idx+1:], 10, 64)
		if err != nil {
			return nil, wrapErr(ClockOffsetValue, false, err, "parsing clock offset reinit value: %q", line)
		}
		if err := nd.Init(order, value); err != nil {
			return nil, err
		}
		sec := unscaleValue(value)
		return &sec, nil
	}

	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, wrapErr(ClockOffsetValue, false, err, "parsing clock offset diff: %q", line)
	}
	v, err := nd.Decompress(value)
	if err != nil {
		return nil, err
	}
	sec := unscaleValue(v)
	return &sec, nil
}

// formatClockOffsetLine is the compress-side mirror of
// parseClockOffsetLine: given an optional clock offset in seconds
// (extracted from the canonical descriptor already parsed), it emits
// the wire line for the ClockOffsetDescriptor phase, reinitializing or
// differencing nd as needed. A nil offset always emits a blank line,
// since a CRINEX stream must carry the ClockOffsetDescriptor line for
// every epoch even when no offset is present.
func formatClockOffsetLine(nd *NumDiff, offsetSeconds *float64) (string, error) {
	if offsetSeconds == nil {
		return "", nil
	}
	scaled := scaleValue(*offsetSeconds)
	if nd.Order() == 0 {
		if err := nd.Init(defaultDiffOrder, scaled); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d&%d", defaultDiffOrder, scaled), nil
	}
	d, err := nd.Compress(scaled)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(d, 10), nil
}
