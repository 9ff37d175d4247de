// Package history reads and writes workflow histories stored on disk.
//
// Two formats are supported: the binary protobuf encoding of
// historypb.History and the JSON export format produced by the Temporal CLI
// and web UI.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/sdk/client"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// ErrEmpty indicates a history file without events.
var ErrEmpty = errors.New("history has no events")

// FromProtoBinary reads a binary encoded history from path.
func FromProtoBinary(path string) (*historypb.History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	var h historypb.History
	if err := proto.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding history %s: %w", path, err)
	}
	if len(h.GetEvents()) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return &h, nil
}

// FromJSONFile reads a history in JSON export format from path.
func FromJSONFile(path string) (*historypb.History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer f.Close()

	h, err := FromJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// FromJSON decodes a history in JSON export format.
func FromJSON(r io.Reader) (*historypb.History, error) {
	h, err := client.HistoryFromJSON(r, client.HistoryJSONOptions{})
	if err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	if len(h.GetEvents()) == 0 {
		return nil, ErrEmpty
	}
	return h, nil
}

// Load reads path as JSON when it ends in ".json" and as binary otherwise.
func Load(path string) (*historypb.History, error) {
	if isJSON(path) {
		return FromJSONFile(path)
	}
	return FromProtoBinary(path)
}

// WriteProtoBinary writes h to path in binary form.
func WriteProtoBinary(path string, h *historypb.History) error {
	data, err := proto.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

// WriteJSON writes h to w as indented JSON that FromJSON accepts.
func WriteJSON(w io.Writer, h *historypb.History) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
