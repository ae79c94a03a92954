package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/goatkit/controlroom/internal/constants"
)

// ErrCaseIDExhausted is returned when every attempt produced a case id that
// was already taken.
var ErrCaseIDExhausted = errors.New("failed to generate a unique case id")

// CaseIDChecker reports whether a case id is already in use.
type CaseIDChecker interface {
	CaseIDExists(ctx context.Context, caseID string) (bool, error)
}

// CaseIDGenerator builds case ids of the form CS + 8 characters from an
// alphabet without look-alike characters.
type CaseIDGenerator struct {
	checker     CaseIDChecker
	prefix      string
	length      int
	alphabet    string
	maxAttempts int
}

// NewCaseIDGenerator creates a generator checking uniqueness against checker.
func NewCaseIDGenerator(checker CaseIDChecker) *CaseIDGenerator {
	return &CaseIDGenerator{
		checker:     checker,
		prefix:      constants.CaseIDPrefix,
		length:      constants.CaseIDLength,
		alphabet:    constants.CaseIDAlphabet,
		maxAttempts: constants.CaseIDMaxAttempts,
	}
}

// Generate returns a case id not yet used by any session.
func (g *CaseIDGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		id, err := g.candidate()
		if err != nil {
			return "", err
		}
		if g.checker == nil {
			return id, nil
		}
		exists, err := g.checker.CaseIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check case id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", ErrCaseIDExhausted
}

func (g *CaseIDGenerator) candidate() (string, error) {
	max := big.NewInt(int64(len(g.alphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = g.alphabet[n.Int64()]
	}
	return g.prefix + string(buf), nil
}
