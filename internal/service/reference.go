package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

const (
	referencePrefix    = "BK-"
	referenceLength    = 8
	ticketNumberPrefix = "TK-"
	ticketNumberLength = 10

	maxGenerateAttempts = 5
)

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CodeGenerator produces booking references and ticket numbers
type CodeGenerator interface {
	Reference() (string, error)
	TicketNumber() (string, error)
}

type randomCodeGenerator struct{}

// NewRandomCodeGenerator returns a generator backed by crypto/rand
func NewRandomCodeGenerator() CodeGenerator {
	return randomCodeGenerator{}
}

func (randomCodeGenerator) Reference() (string, error) {
	return randomCode(referencePrefix, referenceLength)
}

func (randomCodeGenerator) TicketNumber() (string, error) {
	return randomCode(ticketNumberPrefix, ticketNumberLength)
}

func randomCode(prefix string, length int) (string, error) {
	buf := make([]byte, (length*5+7)/8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return prefix + codeEncoding.EncodeToString(buf)[:length], nil
}

// existsFunc reports whether a code is already taken in the store
type existsFunc func(ctx context.Context, code string) (bool, error)

// uniqueCode draws codes until one is free in the store and in taken
func uniqueCode(ctx context.Context, next func() (string, error), exists existsFunc, taken map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := next()
		if err != nil {
			return "", err
		}
		if _, ok := taken[code]; ok {
			continue
		}
		found, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !found {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique code after %d attempts", maxGenerateAttempts)
}
