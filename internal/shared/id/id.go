// Package id provides ULID-based identifiers for host-side objects.
//
// Identifiers are lexicographically sortable and carry a short type prefix so
// log lines stay readable:
//   - sess_*: sandbox sessions
//   - live_*: live-view websocket connections
//   - trc_*, spn_*: tracing identifiers
//
// Node ids are chosen by the sandbox and are not generated here.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies one sandbox session
type SessionID string

// ConnID identifies a live-view connection
type ConnID string

const (
	SessionPrefix = "sess"
	ConnPrefix    = "live"
	TracePrefix   = "trc"
	SpanPrefix    = "spn"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. Ids from one
// generator sort in creation order even within the same millisecond.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewConnID generates a new live connection ID
func NewConnID() ConnID {
	return ConnID(Default().GenerateWithPrefix(ConnPrefix))
}

// NewTraceID generates a trace identifier
func NewTraceID() string {
	return Default().GenerateWithPrefix(TracePrefix)
}

// NewSpanID generates a span identifier
func NewSpanID() string {
	return Default().GenerateWithPrefix(SpanPrefix)
}

func (id SessionID) String() string { return string(id) }
func (id ConnID) String() string    { return string(id) }

// ParseSessionID validates a session id received from a client
func ParseSessionID(s string) (SessionID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok || prefix != SessionPrefix {
		return "", fmt.Errorf("invalid session id %q", s)
	}
	if _, err := ulid.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionID(s), nil
}

// Timestamp extracts the creation time encoded in a prefixed id
func Timestamp(s string) (time.Time, error) {
	_, raw, ok := strings.Cut(s, "_")
	if !ok {
		raw = s
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
