package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"strings"

	"github.com/veilchat/veil-go/pkg/log"
)

type exportFunc func(events iter.Seq2[log.Event, error], w io.Writer) error

var exporters = map[string]exportFunc{
	"jsonl": exportJSONL,
	"csv":   exportCSV,
}

// ExportFormats lists the supported export formats.
func ExportFormats() []string {
	formats := make([]string, 0, len(exporters))
	for f := range exporters {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// RunExport writes the events matching sel in format. An empty output
// writes to w.
func RunExport(path, format, output string, sel Selection, w io.Writer) error {
	export, ok := exporters[format]
	if !ok {
		return fmt.Errorf("unknown format: %s (supported: %s)", format, strings.Join(ExportFormats(), ", "))
	}
	filter, err := sel.Filter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	if output == "" {
		return export(reader.Events(), w)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := export(reader.Events(), f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSONL(events iter.Seq2[log.Event, error], w io.Writer) error {
	enc := json.NewEncoder(w)
	for event, err := range events {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvColumns = []struct {
	name  string
	value func(log.Event) string
}{
	{"timestamp", func(e log.Event) string { return e.Timestamp.UTC().Format(timeLayout) }},
	{"connection_id", func(e log.Event) string { return e.ConnectionID }},
	{"role", func(e log.Event) string { return e.LocalRole.String() }},
	{"direction", func(e log.Event) string { return e.Direction.String() }},
	{"layer", func(e log.Event) string { return e.Layer.String() }},
	{"category", func(e log.Event) string { return e.Category.String() }},
	{"peer", func(e log.Event) string { return e.PeerAddress }},
	{"type", eventType},
	{"message_id", log.Event.MessageID},
}

func exportCSV(events iter.Seq2[log.Event, error], w io.Writer) error {
	cw := csv.NewWriter(w)

	row := make([]string, len(csvColumns))
	for i, c := range csvColumns {
		row[i] = c.name
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for event, err := range events {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		row = row[:0]
		for _, c := range csvColumns {
			row = append(row, c.value(event))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
