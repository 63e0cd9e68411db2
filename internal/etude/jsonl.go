package etude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// maxRecordBytes bounds a single JSONL record; embeddings of a few
// thousand dimensions fit comfortably.
const maxRecordBytes = 1 << 20

// DecodeJSONL reads etude records from r, one JSON object per line.
//
// Malformed lines are skipped and counted rather than failing the whole
// load, matching the offline extractor's tolerant reader. Records with
// no id or no embedding are treated as malformed.
func DecodeJSONL(r io.Reader, logger *zap.Logger) ([]Etude, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	var (
		etudes  []Etude
		skipped int
		lineNo  int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Etude
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			logger.Warn("skipping malformed etude record",
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		if e.ID == "" || len(e.Embedding) == 0 {
			skipped++
			logger.Warn("skipping incomplete etude record",
				zap.Int("line", lineNo),
				zap.String("id", e.ID))
			continue
		}
		if e.CooldownTurns < 0 {
			skipped++
			logger.Warn("skipping etude with negative cooldown",
				zap.Int("line", lineNo),
				zap.String("id", e.ID))
			continue
		}

		etudes = append(etudes, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("reading etude records: %w", err)
	}

	return etudes, skipped, nil
}

// LoadFile loads etudes from a JSONL file.
func LoadFile(path string, logger *zap.Logger) ([]Etude, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening etude file: %w", err)
	}
	defer f.Close()

	etudes, skipped, err := DecodeJSONL(f, logger)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("etude file loaded",
			zap.String("path", path),
			zap.Int("etudes", len(etudes)),
			zap.Int("skipped", skipped))
	}
	return etudes, nil
}

// EncodeJSONL writes etudes to w, one JSON object per line.
func EncodeJSONL(w io.Writer, etudes []Etude) error {
	enc := json.NewEncoder(w)
	for i := range etudes {
		if err := enc.Encode(&etudes[i]); err != nil {
			return fmt.Errorf("encoding etude %s: %w", etudes[i].ID, err)
		}
	}
	return nil
}
