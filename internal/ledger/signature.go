package ledger

import (
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultMaxStack is used when a kind has no template or the template declares
// a non-positive stack size.
const DefaultMaxStack = 64

// Signature is the stack-independent identity of an item kind.
// Value type, comparable, usable directly as a map key.
//
// Two stacks share a signature iff their kind and normalized metadata match;
// metadata key order is irrelevant.
type Signature struct {
	Kind     string
	Meta     string // normalized "k=v;k=v", sorted by key
	MaxStack int32

	hash [16]byte
}

// NewSignature builds a signature from a kind and raw metadata.
func NewSignature(kind string, maxStack int32, meta map[string]string) Signature {
	if maxStack <= 0 {
		maxStack = DefaultMaxStack
	}
	s := Signature{
		Kind:     kind,
		Meta:     NormalizeMeta(meta),
		MaxStack: maxStack,
	}
	s.hash = digest(s.Kind, s.Meta)
	return s
}

// NormalizeMeta renders metadata as a canonical string.
// Empty keys are dropped; nil and empty maps normalize to "".
func NormalizeMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(meta[k])
	}
	return b.String()
}

// ParseMeta reverses NormalizeMeta.
func ParseMeta(normalized string) map[string]string {
	if normalized == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(normalized, ";") {
		k, v, _ := strings.Cut(pair, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

func digest(kind, meta string) [16]byte {
	// blake2b.New with size 16 never fails for a nil key.
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(meta))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Key returns a stable hex identifier, used as a persistence and wire key.
func (s Signature) Key() string {
	return hex.EncodeToString(s.hash[:])
}

// Less orders signatures by kind name, then by metadata.
func (s Signature) Less(other Signature) bool {
	if s.Kind != other.Kind {
		return s.Kind < other.Kind
	}
	return s.Meta < other.Meta
}

// SlotsFor returns ceil(amount / MaxStack).
func (s Signature) SlotsFor(amount int64) int {
	if amount <= 0 {
		return 0
	}
	maxStack := int64(s.MaxStack)
	if maxStack <= 0 {
		maxStack = DefaultMaxStack
	}
	return int((amount + maxStack - 1) / maxStack)
}

// String returns human-readable signature.
func (s Signature) String() string {
	if s.Meta == "" {
		return s.Kind
	}
	return s.Kind + "{" + s.Meta + "}"
}
