package rinex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gnss-go/rinex/pkg/crinex"
	"github.com/gnss-go/rinex/pkg/gnss"
)

// crinexHeaderLabel and crinexDateLabel are the two extra header lines
// a compressed observation file carries in addition to a normal RINEX
// obs header, identifying it as Hatanaka-compressed to any reader.
const (
	crinexHeaderLabel = "CRINEX VERS   / TYPE"
	crinexDateLabel   = "CRINEX PROG / DATE"
	endOfHeaderLabel  = "END OF HEADER"
)

// toCrinexHeader extracts the subset of an ObsHeader the core codecs
// need: RINEX major version, declared constellation and the
// observable list per system.
func toCrinexHeader(h ObsHeader) *crinex.Header {
	return &crinex.Header{
		Major:         int(h.RINEXVersion),
		Constellation: h.SatSystem,
		Observables:   h.ObsTypes,
	}
}

// splitHeaderBody scans a RINEX/CRINEX text file into its header
// lines (through and including END OF HEADER) and the remaining body
// text, without going through the full ObsHeader decoder: a CRINEX
// header carries two label lines (CRINEX VERS / TYPE, CRINEX PROG /
// DATE) that the canonical obs decoder does not expect, so header
// text is handled textually here rather than reusing ObsDecoder.
func splitHeaderBody(r io.Reader) (headerLines []string, body string, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		headerLines = append(headerLines, line)
		if len(line) >= 60 && strings.Contains(line[60:], endOfHeaderLabel) {
			break
		}
	}
	var b strings.Builder
	for sc.Scan() {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, "", err
	}
	return headerLines, b.String(), nil
}

// parseObsTypesHeader derives a minimal ObsHeader (version, system,
// observable table) from raw header lines, covering just the fields
// CompressFile/DecompressFile need to drive the core codecs.
func parseObsTypesHeader(lines []string) (ObsHeader, error) {
	hdr := ObsHeader{ObsTypes: map[gnss.System][]string{}}
	for _, line := range lines {
		if len(line) < 61 {
			continue
		}
		label := strings.TrimSpace(line[60:])
		content := line[:60]
		switch {
		case strings.Contains(label, "RINEX VERSION / TYPE"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(content[:9]), 32); err == nil {
				hdr.RINEXVersion = float32(v)
			}
			if len(content) > 40 {
				sys := strings.TrimSpace(content[40:41])
				if s, ok := gnss.ByAbbr[sys]; ok {
					hdr.SatSystem = s
				} else {
					hdr.SatSystem = gnss.SysMIXED
				}
			}
		case strings.Contains(label, "SYS / # / OBS TYPES"):
			if sys, ok := gnss.ByAbbr[strings.TrimSpace(content[:1])]; ok {
				hdr.ObsTypes[sys] = append(hdr.ObsTypes[sys], strings.Fields(content[6:])...)
			}
		case strings.Contains(label, "# / TYPES OF OBSERV"):
			sys := hdr.SatSystem
			if sys == 0 {
				sys = gnss.SysMIXED
			}
			hdr.ObsTypes[sys] = append(hdr.ObsTypes[sys], strings.Fields(content[6:])...)
		}
	}
	return hdr, nil
}

// CompressFile Hatanaka-compresses the RINEX observation file at
// rnxPath into a CRINEX file at crxPath, in process: no external
// RNX2CRX binary is invoked.
func CompressFile(rnxPath, crxPath string) error {
	in, err := os.Open(rnxPath)
	if err != nil {
		return err
	}
	defer in.Close()

	headerLines, body, err := splitHeaderBody(in)
	if err != nil {
		return err
	}
	hdr, err := parseObsTypesHeader(headerLines)
	if err != nil {
		return err
	}

	out, err := os.Create(crxPath)
	if err != nil {
		return err
	}
	defer out.Close()
	bw := bufio.NewWriter(out)

	if err := writeCrinexHeader(bw, headerLines); err != nil {
		return err
	}

	comp := crinex.NewCompressor(toCrinexHeader(hdr))
	if err := comp.Compress(strings.NewReader(body), bw); err != nil {
		return err
	}
	return bw.Flush()
}

// DecompressFile reverses CompressFile: it reconstructs the canonical
// RINEX observation file at rnxPath from the CRINEX file at crxPath.
func DecompressFile(crxPath, rnxPath string) error {
	in, err := os.Open(crxPath)
	if err != nil {
		return err
	}
	defer in.Close()

	headerLines, body, err := splitHeaderBody(in)
	if err != nil {
		return err
	}
	hdr, err := parseObsTypesHeader(headerLines)
	if err != nil {
		return err
	}

	out, err := os.Create(rnxPath)
	if err != nil {
		return err
	}
	defer out.Close()
	bw := bufio.NewWriter(out)

	for _, line := range headerLines {
		if len(line) >= 60 {
			label := strings.TrimSpace(line[60:])
			if label == crinexHeaderLabel || label == crinexDateLabel {
				continue
			}
		}
		fmt.Fprintln(bw, line)
	}

	dec := crinex.NewDecompressor(toCrinexHeader(hdr))
	if err := dec.Decompress(strings.NewReader(body), bw); err != nil {
		return err
	}
	return bw.Flush()
}

// writeCrinexHeader copies headerLines to w, inserting the CRINEX VERS
// / TYPE and CRINEX PROG / DATE labels immediately after the leading
// RINEX VERSION / TYPE line, matching where real CRINEX files carry
// them.
func writeCrinexHeader(w *bufio.Writer, headerLines []string) error {
	for i, line := range headerLines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if i == 0 {
			fmt.Fprintf(w, "%9.2f%-51s%s\n", 1.0, "", crinexHeaderLabel)
			fmt.Fprintf(w, "%-20s%-20s%-20s%s\n", "rnxgo", "", "", crinexDateLabel)
		}
	}
	return nil
}

// Rnx2crx Hatanaka-compresses the RINEX obs file at rnxFilename and
// returns the path of the compressed CRINEX file it wrote alongside
// it.
func Rnx2crx(rnxFilename string) (string, error) {
	crxFilename, err := crinexSiblingName(rnxFilename, true)
	if err != nil {
		return "", err
	}
	if err := CompressFile(rnxFilename, crxFilename); err != nil {
		return "", err
	}
	return crxFilename, nil
}

// Crx2rnx decompresses the Hatanaka-compressed RINEX obs file at
// crxFilename and returns the path of the canonical RINEX file it
// wrote alongside it.
func Crx2rnx(crxFilename string) (string, error) {
	rnxFilename, err := crinexSiblingName(crxFilename, false)
	if err != nil {
		return "", err
	}
	if err := DecompressFile(crxFilename, rnxFilename); err != nil {
		return "", err
	}
	return rnxFilename, nil
}

func crinexSiblingName(src string, toCrx bool) (string, error) {
	dir, file := splitDirFile(src)
	// RINEX2 short names are matched in lower case; an all-upper-case
	// name keeps its case in the target.
	upperRnx2 := file == strings.ToUpper(file) && !Rnx3FileNamePattern.MatchString(file) &&
		Rnx2FileNamePattern.MatchString(strings.ToLower(file))
	if upperRnx2 {
		file = strings.ToLower(file)
	}
	var target string
	if Rnx2FileNamePattern.MatchString(file) {
		if toCrx {
			target = Rnx2FileNamePattern.ReplaceAllString(file, "${2}${3}${4}${5}.${6}d")
		} else {
			target = Rnx2FileNamePattern.ReplaceAllString(file, "${2}${3}${4}${5}.${6}o")
		}
	} else if Rnx3FileNamePattern.MatchString(file) {
		if toCrx {
			target = Rnx3FileNamePattern.ReplaceAllString(file, "${2}.crx")
		} else {
			target = Rnx3FileNamePattern.ReplaceAllString(file, "${2}.rnx")
		}
	} else {
		return "", fmt.Errorf("file %s with no standard RINEX extension", file)
	}
	if target == "" || target == file {
		return "", fmt.Errorf("could not build target filename for %s", file)
	}
	if upperRnx2 {
		target = strings.ToUpper(target)
	}
	return dir + target, nil
}

func splitDirFile(path string) (dir, file string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i+1], path[i+1:]
	}
	return "", path
}
