package export

import (
	"bufio"
	"encoding/csv"
	"io"
	"slices"
	"strconv"
	"strings"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const bom = "\uFEFF"

var (
	HeaderEnglish = []string{"Index", "Absolute Time", "Relative Time (s)", "Type", "Summary", "Details"}
	HeaderChinese = []string{"序号", "绝对时间", "相对时间(秒)", "类型", "摘要", "详细数据"}
)

// ImportResult is the outcome of reading a snapshot
type ImportResult struct {
	Records  []store.Record
	Imported int
	Skipped  int
}

// WriteCSV writes protocol rows followed by measurement rows, prefixed with
// a UTF-8 byte order mark.
func WriteCSV(w io.Writer, protocol, measurement []store.Record) error {
	errFactory := errors.New()

	if len(protocol) == 0 && len(measurement) == 0 {
		return errFactory.New(ErrNothingToExport)
	}

	if _, err := io.WriteString(w, bom); err != nil {
		return errFactory.Wrap(ErrExportFailed, err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(HeaderEnglish); err != nil {
		return errFactory.Wrap(ErrExportFailed, err)
	}

	for _, r := range protocol {
		if err := cw.Write(protocolRow(r)); err != nil {
			return errFactory.Wrap(ErrExportFailed, err)
		}
	}

	for _, r := range measurement {
		if err := cw.Write(measurementRow(r)); err != nil {
			return errFactory.Wrap(ErrExportFailed, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errFactory.Wrap(ErrExportFailed, err)
	}

	logger.Debug().
		Int("protocol", len(protocol)).
		Int("measurement", len(measurement)).
		Msg("CSV snapshot written")

	return nil
}

func protocolRow(r store.Record) []string {
	var detail string
	switch r.Kind {
	case store.KindPDO:
		detail = PDODetail(r.PDOs)
	case store.KindRDO:
		detail = RDODetail(r.RDO)
	}

	return []string{
		strconv.FormatUint(r.Index, 10),
		r.Timestamp,
		formatFixed(r.RelativeTime),
		r.Kind.String(),
		r.Summary,
		detail,
	}
}

func measurementRow(r store.Record) []string {
	row := []string{
		strconv.FormatUint(r.Index, 10),
		r.Timestamp,
		formatFixed(r.RelativeTime),
		store.KindMeasurement.String(),
		"",
		"", "", "",
	}

	if s := r.Sample; s != nil {
		row[5] = formatOptional(s.Voltage)
		row[6] = formatOptional(s.Current)
		row[7] = formatOptional(s.Power)
	}

	return row
}

func formatFixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFixed(*v)
}

// ReadCSV parses a snapshot written by WriteCSV or by older tools using the
// Chinese header. Invalid rows are skipped and counted.
func ReadCSV(r io.Reader) (ImportResult, error) {
	errFactory := errors.New()

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && string(head) == bom {
		if _, err := br.Discard(len(bom)); err != nil {
			return ImportResult{}, errFactory.Wrap(ErrImportFailed, err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	var result ImportResult
	skip := func(line int, err error) {
		result.Skipped++
		logger.Warn().
			Str("error_code", string(ErrRowInvalid)).
			Int("line", line).
			Err(err).
			Msg("Skipping invalid row")
	}

	for first := true; ; first = false {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return ImportResult{}, errFactory.Wrap(ErrImportFailed, err)
			}
			skip(perr.StartLine, err)
			continue
		}

		if first && isHeader(row) {
			continue
		}

		rec, err := parseRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			skip(line, err)
			continue
		}

		result.Records = append(result.Records, rec)
		result.Imported++
	}

	logger.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("CSV snapshot imported")

	return result, nil
}

func isHeader(row []string) bool {
	trimmed := make([]string, len(row))
	for i, cell := range row {
		trimmed[i] = strings.TrimSpace(cell)
	}

	return slices.Equal(trimmed, HeaderEnglish) || slices.Equal(trimmed, HeaderChinese)
}

func parseRow(row []string) (store.Record, error) {
	errFactory := errors.New()

	if len(row) < 5 {
		return store.Record{}, errFactory.WithMessage(ErrRowInvalid, "too few columns")
	}

	index, err := strconv.ParseUint(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return store.Record{}, errFactory.Wrap(ErrRowInvalid, err)
	}

	rel, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return store.Record{}, errFactory.Wrap(ErrRowInvalid, err)
	}

	kind, err := store.ParseKind(row[3])
	if err != nil {
		return store.Record{}, errFactory.Wrap(ErrRowInvalid, err)
	}

	rec := store.Record{
		Index:        index,
		Timestamp:    row[1],
		RelativeTime: rel,
		Kind:         kind,
		Summary:      row[4],
	}

	detail := ""
	if len(row) > 5 {
		detail = row[5]
	}

	switch kind {
	case store.KindPDO:
		rec.PDOs = parsePDODetail(detail)
	case store.KindRDO:
		rec.RDO = parseRDODetail(rec.Summary, detail)
	case store.KindMeasurement:
		sample, err := parseSample(row[5:])
		if err != nil {
			return store.Record{}, errFactory.Wrap(ErrRowInvalid, err)
		}
		rec.Sample = &sample
	}

	return rec, nil
}

func parseSample(cols []string) (telemetry.Sample, error) {
	values := make([]*float64, 3)

	for i := 0; i < len(cols) && i < len(values); i++ {
		cell := strings.TrimSpace(cols[i])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return telemetry.Sample{}, err
		}
		values[i] = &v
	}

	return telemetry.Sample{Voltage: values[0], Current: values[1], Power: values[2]}, nil
}
