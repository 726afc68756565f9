package room

import (
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"
)

const maxCodeAttempts = 32

// CodeGenerator returns a new random room code on each call.
type CodeGenerator func() string

// NewCodeGenerator builds a crypto-random generator over the limits' alphabet.
func NewCodeGenerator(l Limits) (CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(l.CodeAlphabet, l.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("create room code generator: %w", err)
	}
	return gen, nil
}

// uniqueCode draws codes until one is not taken.
func (s *Store) uniqueCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := s.newCode()
		if _, taken := s.codes[code]; !taken {
			return code, nil
		}
	}
	return "", &Error{Code: CodeCodeSpaceExhaust, Err: fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)}
}
