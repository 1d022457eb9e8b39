package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/veilchat/veil-go/pkg/log"
)

// RunFilter copies the events matching sel into a new log file at output
// and returns how many were written.
func RunFilter(path, output string, sel Selection) (int, error) {
	if output == "" {
		return 0, fmt.Errorf("output file required")
	}
	filter, err := sel.Filter()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
}
