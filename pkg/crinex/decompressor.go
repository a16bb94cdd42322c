package crinex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gnss-go/rinex/pkg/gnss"
)

// svSlot holds the per-satellite, per-observable codec state a
// Decompressor (and, symmetrically, a Compressor) keeps alive across
// epochs. Observable indices line up with Header.ObservablesFor(sv).
type svSlot struct {
	values []*NumDiff // nil entry until the first reinit marker for that observable
	flags  *TextDiff  // one shared text diff over the packed LLI/SSI run for the SV
}

// Decompressor turns a Hatanaka-compressed (CRINEX) observation body
// back into canonical RINEX observation records. It is a streaming
// state machine: descriptor lines prime a TextDiff, the clock-offset
// line primes a NumDiff shared across the whole stream, satellite body
// lines prime one NumDiff per observable, and an out-of-band
// "RINEX FILE SPLICE" comment resets everything, since the two halves
// of a spliced file were compressed independently and share no codec
// history.
type Decompressor struct {
	header *Header

	descDiff  *TextDiff
	clockDiff *NumDiff

	seenFirstEpoch bool
	lastDesc       *descriptor

	sats map[gnss.PRN]*svSlot
}

// NewDecompressor returns a Decompressor that will reconstruct
// canonical records according to header.
func NewDecompressor(header *Header) *Decompressor {
	return &Decompressor{
		header:    header,
		descDiff:  NewTextDiff(),
		clockDiff: NewNumDiff(),
		sats:      make(map[gnss.PRN]*svSlot),
	}
}

// reset clears all codec state, as required when a RINEX FILE SPLICE
// event is encountered mid-stream: the two spliced files were
// compressed independently, so nothing may be carried across it.
func (d *Decompressor) reset() {
	d.descDiff = NewTextDiff()
	d.clockDiff = NewNumDiff()
	d.seenFirstEpoch = false
	d.lastDesc = nil
	d.sats = make(map[gnss.PRN]*svSlot)
}

const spliceMarker = "RINEX FILE SPLICE"

// isFatal reports whether err should abort the whole stream. A plain
// (non-*Error) failure is treated as fatal, since it did not come from
// the typed taxonomy and nothing in the state machine knows how to
// resync around it.
func isFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal
	}
	return true
}

// Decompress reads a CRINEX observation body from r and writes the
// equivalent canonical RINEX observation body to w, one epoch at a
// time. Only errors that isFatal classifies as fatal are returned. A
// non-fatal malformed descriptor line is dropped without being reported
// and the next line is tried as a descriptor; a non-fatal bad clock line
// drops only the clock offset and the body is still decoded. Per-SV and
// per-observation failures are scoped even tighter, inside
// decodeBody/decodeSatLine.
func (d *Decompressor) Decompress(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, spliceMarker) {
			d.reset()
			fmt.Fprintln(bw, line)
			continue
		}

		if isCommentBody(line) {
			fmt.Fprintln(bw, line)
			continue
		}

		desc, err := d.decodeDescriptorLine(line)
		if err != nil {
			if isFatal(err) {
				return err
			}
			continue // malformed epoch: resync at the next descriptor line
		}
		d.lastDesc = desc

		if desc.Flag.IsEvent() {
			if err := d.passthroughEvent(scanner, bw, desc); err != nil {
				if isFatal(err) {
					return err
				}
				continue
			}
			continue
		}

		// A malformed clock-offset line is fatal to the epoch's clock
		// field only, not to its satellite body: NumSat is already
		// known from the descriptor, so the body is still decoded
		// (with clockOffset left absent) to keep the line cursor
		// aligned with the next epoch's descriptor.
		clockOffset, err := parseClockOffsetLine(d.nextLine(scanner), d.clockDiff)
		if err != nil {
			if isFatal(err) {
				return err
			}
			clockOffset = nil
		}

		if d.header.IsV3() {
			fmt.Fprintln(bw, formatDescriptorV3(desc, clockOffset))
		} else {
			fmt.Fprintln(bw, formatDescriptorV2(d.descDiff.String(), desc, clockOffset))
		}

		if err := d.decodeBody(scanner, bw, desc); err != nil {
			if isFatal(err) {
				return err
			}
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return wrapErr(Utf8, true, err, "reading crinex stream")
	}
	return nil
}

// nextLine advances the scanner by one line, returning "" (treated as
// "no clock offset") if the stream ends early; decodeBody's own scan
// calls will then report the resulting truncation.
func (d *Decompressor) nextLine(scanner *bufio.Scanner) string {
	if !scanner.Scan() {
		return ""
	}
	return scanner.Text()
}

// decodeDescriptorLine advances descDiff with line and parses the
// resulting canonical descriptor text. The very first epoch of a
// stream must be a full literal record (no leading spaces standing in
// for "unchanged"); anything else is a fatal, unrecoverable format
// error since there is nothing yet to diff against.
//
// A delta that fails to parse leaves descDiff rolled back to its prior
// value rather than the (possibly garbage) applied one: epoch-level
// resync is only useful if the next good epoch's diff is still taken
// against a baseline matching what the compressor actually diffed
// against, not against a corrupted one the malformed line would
// otherwise leave behind.
func (d *Decompressor) decodeDescriptorLine(line string) (*descriptor, error) {
	if !d.seenFirstEpoch {
		if line == "" || (line[0] != '&' && line[0] != '>') {
			return nil, newErr(FirstEpochFormat, true, "first epoch descriptor must be a literal record, got %q", line)
		}
		d.descDiff.Init(line)
		d.seenFirstEpoch = true
		return d.parseDescriptor(d.descDiff.String())
	}

	prev := d.descDiff.String()
	raw := d.descDiff.Apply(line)
	desc, err := d.parseDescriptor(raw)
	if err != nil {
		d.descDiff.Init(prev)
		return nil, err
	}
	return desc, nil
}

func (d *Decompressor) parseDescriptor(raw string) (*descriptor, error) {
	if d.header.IsV3() {
		return parseDescriptorV3(raw)
	}
	return parseDescriptorV2(raw)
}

// passthroughEvent copies an event epoch's header-update payload
// verbatim: it carries no differential-coded observation data, only
// literal RINEX header lines, so there is nothing for the core codecs
// to decode. Event epochs carry no ClockOffsetDescriptor line.
func (d *Decompressor) passthroughEvent(scanner *bufio.Scanner, bw *bufio.Writer, desc *descriptor) error {
	if d.header.IsV3() {
		fmt.Fprintln(bw, formatDescriptorV3(desc, nil))
	} else {
		fmt.Fprintln(bw, formatDescriptorV2(d.descDiff.String(), desc, nil))
	}
	for i := 0; i < desc.NumSat; i++ {
		if !scanner.Scan() {
			return newErr(MalformedDescriptor, false, "event epoch truncated: expected %d lines, got %d", desc.NumSat, i)
		}
		fmt.Fprintln(bw, scanner.Text())
	}
	return nil
}

// decodeBody reads and reconstructs desc.NumSat satellite lines. A
// satellite whose SV code or observable table cannot be resolved
// (SvParsing, MissingSpec) is skipped — its canonical line is simply
// omitted — rather than aborting the rest of the epoch.
func (d *Decompressor) decodeBody(scanner *bufio.Scanner, bw *bufio.Writer, desc *descriptor) error {
	for i := 0; i < desc.NumSat; i++ {
		if !scanner.Scan() {
			return newErr(MalformedDescriptor, false, "body truncated: expected %d satellite lines, got %d", desc.NumSat, i)
		}
		line := scanner.Text()

		var sv gnss.PRN
		var payload string
		if d.header.IsV3() {
			// The descriptor carries no per-satellite SV code in CRNX3;
			// each body line is self-identifying via a leading 3-char token.
			if len(line) < 3 {
				continue // SvParsing: SV skipped
			}
			var err error
			sv, err = gnss.NewPRN(line[:3])
			if err != nil {
				continue // SvParsing: SV skipped
			}
			payload = line[3:]
		} else {
			sv = d.header.ResolveSV(desc.Sats[i])
			payload = line
		}

		if err := d.decodeSatLine(bw, sv, payload); err != nil {
			if isFatal(err) {
				return err
			}
			continue // MissingSpec: SV skipped
		}
	}
	return nil
}

func (d *Decompressor) slotFor(sv gnss.PRN, nObs int) *svSlot {
	s, ok := d.sats[sv]
	if !ok {
		s = &svSlot{values: make([]*NumDiff, nObs), flags: NewTextDiff()}
		d.sats[sv] = s
	}
	return s
}

// decodeSatLine reconstructs one satellite's canonical observation
// line(s) from its compressed payload (value tokens, then a single
// flags block, whitespace-delimited). An unparseable individual
// observation token is emitted absent rather than aborting the SV.
func (d *Decompressor) decodeSatLine(bw *bufio.Writer, sv gnss.PRN, payload string) error {
	obsCodes, err := d.header.ObservablesFor(sv)
	if err != nil {
		return err
	}
	slot := d.slotFor(sv, len(obsCodes))

	fields, flagsTok := splitBodyTokens(payload, len(obsCodes))
	flags := slot.flags.Apply(flagsTok)

	var out strings.Builder
	if d.header.IsV3() {
		out.WriteString(sv.String())
	}
	for i := 0; i < len(obsCodes); i++ {
		lli, ssi := parseFlagsField(flags, i)

		tok, err := parseObsToken(fields[i])
		if err != nil {
			out.WriteString(formatObsSlot(false, 0, ' ', ' ')) // NumericParse: observation emitted absent
			continue
		}
		switch {
		case tok.Absent:
			out.WriteString(formatObsSlot(false, 0, ' ', ' '))
		case tok.Reinit:
			nd := NewNumDiff()
			if err := nd.Init(tok.ReinitWith, tok.Value); err != nil {
				out.WriteString(formatObsSlot(false, 0, ' ', ' '))
				continue
			}
			slot.values[i] = nd
			out.WriteString(formatObsSlot(true, unscaleValue(tok.Value), lli, ssi))
		default:
			nd := slot.values[i]
			if nd == nil {
				out.WriteString(formatObsSlot(false, 0, ' ', ' ')) // diffed before init: emit absent
				continue
			}
			v, err := nd.Decompress(tok.Value)
			if err != nil {
				return err // IntegerOverflow: fatal to stream
			}
			out.WriteString(formatObsSlot(true, unscaleValue(v), lli, ssi))
		}
	}

	d.writeSatLine(bw, out.String(), len(obsCodes))
	return nil
}

// writeSatLine emits content, wrapping it across multiple physical
// lines for RINEX2 when there are more than obsPerLine observables:
// v2 canonical body lines wrap at 5 slots with no continuation indent,
// unlike v3 which keeps every observable on one (longer) line.
func (d *Decompressor) writeSatLine(bw *bufio.Writer, content string, nObs int) {
	if d.header.IsV3() || nObs <= obsPerLine {
		fmt.Fprintln(bw, strings.TrimRight(content, " "))
		return
	}
	for i := 0; i < nObs; i += obsPerLine {
		hi := i + obsPerLine
		if hi > nObs {
			hi = nObs
		}
		lo := i * obsSlotWidth
		end := hi * obsSlotWidth
		if end > len(content) {
			end = len(content)
		}
		chunk := content[lo:end]
		if hi == nObs {
			chunk = strings.TrimRight(chunk, " ")
		}
		fmt.Fprintln(bw, chunk)
	}
}

// isCommentBody reports whether line is a RINEX "COMMENT" header line
// appearing inside the observation body, which CRINEX always carries
// verbatim. Other header labels are not matched.
func isCommentBody(line string) bool {
	return len(line) >= 60 && strings.TrimSpace(line[60:]) == "COMMENT"
}
