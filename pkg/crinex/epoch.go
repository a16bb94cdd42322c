package crinex

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gnss-go/rinex/pkg/gnss"
)

// EpochFlag is the RINEX observation epoch flag. Only Ok, PowerFailure
// and CycleSlip carry observation payloads; the rest are "event"
// epochs whose body is a block of header-update lines.
type EpochFlag int

// Epoch flag values, matching the single digit RINEX stores.
const (
	FlagOk EpochFlag = iota
	FlagPowerFailure
	FlagAntennaBeingMoved
	FlagNewSiteOccupation
	FlagHeaderInformationFollows
	FlagExternalEvent
	FlagCycleSlip
)

// IsEvent reports whether the flag marks an event epoch (flag 2-5):
// its payload is opaque header-update lines, not observations.
func (f EpochFlag) IsEvent() bool {
	return f >= FlagAntennaBeingMoved && f <= FlagExternalEvent
}

// v1HeaderWidth is the width, in the decompressed descriptor buffer
// including the leading marker byte, of the date+flag+numsat prefix
// before the packed SV list begins in a CRNX1/CRNX2 descriptor.
const v1HeaderWidth = 32

// v1SatListOffset is where the packed 3-char SV codes start.
const v1SatListOffset = 32

// satPerLine is the number of packed SV codes per physical v2 line.
const satPerLine = 12

// v2ContinuationIndent is the left padding of continuation lines in a
// formatted (canonical) multi-line RINEX2 epoch descriptor.
const v2ContinuationIndent = 32

// descriptor holds the parsed fields of one epoch header line,
// independent of whether it came from a v1/v2 or v3 stream.
type descriptor struct {
	Year, Month, Day, Hour, Min int
	Sec                         float64
	Flag                        EpochFlag
	NumSat                      int
	Sats                        []gnss.PRN // only populated for v1/v2; v3 gets SVs from body lines

	// ClockOffsetSeconds is the receiver clock offset inline in a
	// canonical RINEX descriptor, when present. A CRINEX wire descriptor
	// never carries one (it occupies the following ClockOffsetDescriptor
	// line instead), so this is only ever set when parsing canonical
	// RINEX text on the compress path.
	ClockOffsetSeconds *float64
}

// parseDescriptorV2 parses a fully-joined (continuation lines already
// concatenated, indents stripped) CRNX1/CRNX2 descriptor buffer, as
// documented in the wire format: marker byte, then
// "YY MM DD HH MM SS.fffffff", flag, numsat, then packed SV codes.
func parseDescriptorV2(buf string) (*descriptor, error) {
	if len(buf) < v1HeaderWidth {
		return nil, newErr(MalformedDescriptor, false, "epoch descriptor too short: %q", buf)
	}
	header := buf[1:v1HeaderWidth]
	fields := strings.Fields(header)
	if len(fields) != 8 {
		return nil, newErr(MalformedDescriptor, false, "unexpected field count in epoch header: %q", header)
	}

	d, err := parseDateFields(fields)
	if err != nil {
		return nil, err
	}

	satArea := buf[v1SatListOffset:]
	d.Sats = make([]gnss.PRN, 0, d.NumSat)
	for i := 0; i < d.NumSat; i++ {
		lo := i * 3
		hi := lo + 3
		if hi > len(satArea) {
			return nil, newErr(MalformedDescriptor, false, "sv list shorter than numsat=%d: %q", d.NumSat, satArea)
		}
		sv, err := gnss.NewPRN(satArea[lo:hi])
		if err != nil {
			return nil, wrapErr(SvParsing, false, err, "parsing sv %d of %q", i, satArea)
		}
		d.Sats = append(d.Sats, sv)
	}

	consumed := v1SatListOffset + d.NumSat*3
	if consumed < len(buf) {
		if txt := strings.TrimSpace(buf[consumed:]); txt != "" {
			v, err := strconv.ParseFloat(txt, 64)
			if err != nil {
				return nil, wrapErr(MalformedDescriptor, false, err, "parsing clock offset field: %q", txt)
			}
			d.ClockOffsetSeconds = &v
		}
	}
	return d, nil
}

// peekNumSatV2 parses only the date/flag/numsat header fields of a v2
// descriptor's first physical line, without touching the packed SV
// list that follows it. The compressor uses this to decide whether a
// canonical descriptor needs continuation lines joined before the full
// parse, since a single-line parse of a wrapped (>12 satellite)
// descriptor would otherwise fail before that decision can be made.
func peekNumSatV2(buf string) (int, error) {
	if len(buf) < v1HeaderWidth {
		return 0, newErr(MalformedDescriptor, false, "epoch descriptor too short: %q", buf)
	}
	fields := strings.Fields(buf[1:v1HeaderWidth])
	if len(fields) != 8 {
		return 0, newErr(MalformedDescriptor, false, "unexpected field count in epoch header: %q", buf[1:v1HeaderWidth])
	}
	d, err := parseDateFields(fields)
	if err != nil {
		return 0, err
	}
	return d.NumSat, nil
}

// parseDescriptorV3 parses a CRNX3 descriptor buffer. Unlike v1/v2 the
// SV list is not embedded in the descriptor: each body line carries
// its own leading SV code, so only the date/flag/numsat fields matter
// here. Any field past the 8th is the optional inline clock offset
// carried by canonical RINEX3 epoch lines; the CRINEX wire form never
// has one.
func parseDescriptorV3(buf string) (*descriptor, error) {
	if len(buf) < 2 {
		return nil, newErr(MalformedDescriptor, false, "epoch descriptor too short: %q", buf)
	}
	fields := strings.Fields(buf[1:])
	if len(fields) < 8 {
		return nil, newErr(MalformedDescriptor, false, "unexpected field count in epoch header: %q", buf)
	}
	d, err := parseDateFields(fields[:8])
	if err != nil {
		return nil, err
	}
	if len(fields) > 8 {
		v, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, wrapErr(MalformedDescriptor, false, err, "parsing clock offset field: %q", fields[8])
		}
		d.ClockOffsetSeconds = &v
	}
	return d, nil
}

func parseDateFields(fields []string) (*descriptor, error) {
	ints := make([]int, 6)
	var err error
	for i := 0; i < 4; i++ {
		ints[i], err = strconv.Atoi(fields[i])
		if err != nil {
			return nil, wrapErr(MalformedDescriptor, false, err, "parsing date field %d", i)
		}
	}
	ints[4], err = strconv.Atoi(fields[4])
	if err != nil {
		return nil, wrapErr(MalformedDescriptor, false, err, "parsing minute field")
	}
	sec, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return nil, wrapErr(MalformedDescriptor, false, err, "parsing seconds field")
	}
	flagInt, err := strconv.Atoi(strings.TrimSpace(fields[6]))
	if err != nil {
		return nil, wrapErr(MalformedDescriptor, false, err, "parsing flag field")
	}
	numSat, err := strconv.Atoi(strings.TrimSpace(fields[7]))
	if err != nil {
		return nil, wrapErr(MalformedDescriptor, false, err, "parsing numsat field")
	}
	if numSat < 0 {
		return nil, newErr(MalformedDescriptor, false, "negative numsat: %d", numSat)
	}

	return &descriptor{
		Year: ints[0], Month: ints[1], Day: ints[2], Hour: ints[3], Min: ints[4],
		Sec: sec, Flag: EpochFlag(flagInt), NumSat: numSat,
	}, nil
}

// formatDescriptorV2 renders d as a canonical RINEX2 epoch header line
// (no reformatting of the date text: RINEX2 convention is space-padded
// fields, which the differential wire format already preserves
// verbatim, so only the leading marker byte is replaced by a space).
// raw is the decompressed (joined) wire buffer this descriptor was
// parsed from.
func formatDescriptorV2(raw string, d *descriptor, clockOffsetSeconds *float64) string {
	var b strings.Builder
	b.WriteByte(' ')
	b.WriteString(raw[1:v1HeaderWidth])

	sats := raw[v1SatListOffset:]
	if d.NumSat <= satPerLine {
		b.WriteString(sats)
		if clockOffsetSeconds != nil {
			fmt.Fprintf(&b, "  %3.9f", *clockOffsetSeconds)
		}
	} else {
		for i := 0; i < d.NumSat; i++ {
			if i > 0 && i%satPerLine == 0 {
				if i == satPerLine && clockOffsetSeconds != nil {
					fmt.Fprintf(&b, "  %3.9f", *clockOffsetSeconds)
				}
				b.WriteByte('\n')
				b.WriteString(strings.Repeat(" ", v2ContinuationIndent))
			}
			lo := i * 3
			hi := lo + 3
			if hi > len(sats) {
				hi = len(sats)
			}
			if lo < len(sats) {
				b.WriteString(sats[lo:hi])
			}
		}
	}
	return b.String()
}

// formatDescriptorV3 renders d as a canonical RINEX3 epoch header
// line: 4-digit year, zero-padded month/day/hour/minute, flag and
// numsat each %2d.
func formatDescriptorV3(d *descriptor, clockOffsetSeconds *float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "> %04d %02d %02d %02d %02d %10.7f %2d %2d",
		d.Year, d.Month, d.Day, d.Hour, d.Min, d.Sec, int(d.Flag), d.NumSat)
	if clockOffsetSeconds != nil {
		fmt.Fprintf(&b, "         %3.12f", *clockOffsetSeconds)
	}
	return b.String()
}
