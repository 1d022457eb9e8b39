package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/veilchat/veil-go/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// detail is one indented "Key: value" line under an event header.
type detail struct {
	key, value string
}

// RunView prints every event of the capture file matching sel.
func RunView(path string, sel Selection, output io.Writer) error {
	filter, err := sel.Filter()
	if err != nil {
		return err
	}
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}

// formatEvent writes a header line followed by the payload details:
//
//	<time> [conn:<id>] <ROLE> <DIR> <LAYER|CTRL> <Type> [peer=<addr>]
func formatEvent(w io.Writer, event log.Event) {
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-8s %-3s %s %s",
		event.Timestamp.UTC().Format(timeLayout),
		shortenConnID(event.ConnectionID),
		event.LocalRole, event.Direction, layer, eventType(event))
	if event.PeerAddress != "" {
		fmt.Fprintf(w, " peer=%s", shortenPeer(event.PeerAddress))
	}
	fmt.Fprintln(w)

	for _, d := range details(event) {
		fmt.Fprintf(w, "  %s: %s\n", d.key, d.value)
	}
	fmt.Fprintln(w)
}

func details(event log.Event) []detail {
	var ds []detail
	add := func(key, value string) {
		if value != "" {
			ds = append(ds, detail{key, value})
		}
	}

	switch {
	case event.Frame != nil:
		f := event.Frame
		add("Size", fmt.Sprintf("%d bytes", f.Size))
		if len(f.Data) > 0 {
			data := hex.EncodeToString(f.Data)
			if f.Truncated {
				data += " (truncated)"
			}
			add("Data", data)
		}
	case event.Packet != nil:
		p := event.Packet
		add("Tag", strconv.FormatUint(uint64(p.Tag), 10))
		add("MessageID", p.MessageID)
		if p.CiphertextLen != nil {
			add("Ciphertext", fmt.Sprintf("%d bytes", *p.CiphertextLen))
		}
		add("Identity", p.IdentityAddress)
	case event.StateChange != nil:
		s := event.StateChange
		add("Entity", s.Entity.String())
		from := s.OldState
		if from == "" {
			from = "?"
		}
		add("Change", from+" -> "+s.NewState)
		if s.Entity == log.StateEntityDelivery {
			add("MessageID", s.Reason)
		} else {
			add("Reason", s.Reason)
		}
	case event.ControlMsg != nil:
		if c := event.ControlMsg.CloseCode; c != nil {
			add("Code", strconv.Itoa(*c))
		}
	case event.Error != nil:
		e := event.Error
		add("Layer", e.Layer.String())
		add("Message", e.Message)
		add("Context", e.Context)
	}
	return ds
}
