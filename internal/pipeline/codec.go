package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"learner-analytics-pipeline/internal/model"
)

// encodeJSONL marshals a slice of records as newline-delimited JSON, the
// landing format for the clean and processed zones.
func encodeJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, fmt.Errorf("encode line %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// decodeJSONL parses newline-delimited JSON back into records.
func decodeJSONL[T any](data []byte) ([]T, error) {
	var items []T
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return items, nil
}

// decodeRecords is the common read path for cleaned/merged record objects.
func decodeRecords(data []byte) ([]model.LearnerActivityRecord, error) {
	return decodeJSONL[model.LearnerActivityRecord](data)
}

// DecodeQuarantine parses a quarantine object back into records, for the
// read-side API.
func DecodeQuarantine(data []byte) ([]model.QuarantinedRecord, error) {
	return decodeJSONL[model.QuarantinedRecord](data)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
