package codes

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jmflores/sms-recovery-pipeline/internal/engine"
)

// codeAlphabet avoids visually ambiguous characters (no I, L, O, 0, 1) so
// codes survive being read off a phone screen and typed by hand.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	suffixLength = 5
	maxAttempts  = 5
)

// CodeIndex answers whether a code already exists in either namespace.
// Uniqueness is checked across primary and recovery codes together.
type CodeIndex interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Generator produces collision-free codes under a namespace prefix.
type Generator struct {
	index  CodeIndex
	prefix string
	clock  engine.Clock
}

func NewGenerator(index CodeIndex, prefix string, clock engine.Clock) *Generator {
	return &Generator{index: index, prefix: prefix, clock: clock}
}

// Generate returns a code not currently present in the store. Random draws
// are retried a bounded number of times; if every draw collides the suffix
// is derived from the current time instead, which bounds the work. The
// fallback gets the same existence check as the random draws.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := g.randomCode()
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}

		exists, err := g.index.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("checking code %s: %w", code, err)
		}
		if !exists {
			return code, nil
		}
	}

	code := g.prefix + timeSuffix(g.clock.Now())
	exists, err := g.index.CodeExists(ctx, code)
	if err != nil {
		return "", fmt.Errorf("checking code %s: %w", code, err)
	}
	if exists {
		return "", fmt.Errorf("code space exhausted for prefix %s", g.prefix)
	}
	return code, nil
}

func (g *Generator) randomCode() (string, error) {
	suffix := make([]byte, suffixLength)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return g.prefix + string(suffix), nil
}

// timeSuffix encodes nanoseconds in the code alphabet's base, keeping the
// fallback visually consistent with random codes.
func timeSuffix(now time.Time) string {
	n := now.UnixNano()
	base := int64(len(codeAlphabet))
	var out []byte
	for n > 0 && len(out) < 8 {
		out = append([]byte{codeAlphabet[n%base]}, out...)
		n /= base
	}
	if len(out) == 0 {
		return strconv.FormatInt(now.Unix(), 10)
	}
	return string(out)
}
