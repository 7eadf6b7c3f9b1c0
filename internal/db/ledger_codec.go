package db

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// contentsVersion is bumped on incompatible changes of the stored layout.
const contentsVersion = 1

type storedContents struct {
	V     int          `json:"v"`
	Lines []storedLine `json:"lines"`
}

type storedLine struct {
	Kind     string `json:"kind"`
	Meta     string `json:"meta,omitempty"`
	MaxStack int32  `json:"max_stack"`
	Amount   int64  `json:"amount"`
}

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		// nil writer: used only via EncodeAll, which is safe for concurrent use
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// EncodeContents serialises ledger contents as zstd-compressed JSON.
// Lines are written in signature order so equal contents give equal blobs.
func EncodeContents(contents map[ledger.Signature]int64) ([]byte, error) {
	sigs := make([]ledger.Signature, 0, len(contents))
	for sig, q := range contents {
		if q > 0 {
			sigs = append(sigs, sig)
		}
	}
	slices.SortFunc(sigs, func(a, b ledger.Signature) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})

	doc := storedContents{V: contentsVersion, Lines: make([]storedLine, 0, len(sigs))}
	for _, sig := range sigs {
		doc.Lines = append(doc.Lines, storedLine{
			Kind:     sig.Kind,
			Meta:     sig.Meta,
			MaxStack: sig.MaxStack,
			Amount:   contents[sig],
		})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshalling contents: %w", err)
	}
	return zstdEncoder().EncodeAll(raw, nil), nil
}

// DecodeContents is the inverse of EncodeContents. Empty input yields an
// empty map.
func DecodeContents(blob []byte) (map[ledger.Signature]int64, error) {
	out := make(map[ledger.Signature]int64)
	if len(blob) == 0 {
		return out, nil
	}

	raw, err := zstdDecoder().DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing contents: %w", err)
	}
	var doc storedContents
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshalling contents: %w", err)
	}
	if doc.V != contentsVersion {
		return nil, fmt.Errorf("unsupported contents version %d", doc.V)
	}

	for _, line := range doc.Lines {
		if line.Amount <= 0 || line.Kind == "" {
			continue
		}
		sig := ledger.NewSignature(line.Kind, line.MaxStack, ledger.ParseMeta(line.Meta))
		out[sig] += line.Amount
	}
	return out, nil
}
