package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ilmimris/restate/internal/engine"
)

// Data formats accepted by --data-format.
const (
	DataFormatStd  = "std"
	DataFormatFmap = "fmap"
)

// decodeFile decodes a JSON or YAML file into v, chosen by extension.
// Unknown fields are rejected in both encodings.
func decodeFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		return dec.Decode(v)
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		return dec.Decode(v)
	}
}

// loadDataFile loads a std or fmap payload file into s. An empty path
// leaves the store as it is.
func loadDataFile(s *engine.DataStore, path, format string, opts engine.LoadOptions) error {
	if path == "" {
		return nil
	}
	switch format {
	case DataFormatStd:
		var payload engine.StdPayload
		if err := decodeFile(path, &payload); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read data %s", ErrCodeReadFailed, path), err)
		}
		if err := s.Load(payload, opts); err != nil {
			return WrapExitError(ExitFailure, "failed to load data", err)
		}
	case DataFormatFmap:
		var payload engine.FmapPayload
		if err := decodeFile(path, &payload); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read data %s", ErrCodeReadFailed, path), err)
		}
		if err := s.LoadFmap(payload, opts); err != nil {
			return WrapExitError(ExitFailure, "failed to load data", err)
		}
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid data format %q: must be %s or %s", format, DataFormatStd, DataFormatFmap))
	}
	return nil
}

// readBatch reads an instruction list. An empty path is an empty batch.
func readBatch(path string) ([]engine.Instruction, error) {
	if path == "" {
		return nil, nil
	}
	var batch []engine.Instruction
	if err := decodeFile(path, &batch); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read batch %s", ErrCodeReadFailed, path), err)
	}
	return batch, nil
}
