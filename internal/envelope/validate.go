package envelope

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Result collects validation findings. Errors mean the envelope cannot be
// trusted; warnings are advisory.
type Result struct {
	Errors   []string
	Warnings []string
	// Parsed is true when the frontmatter could be decoded.
	Parsed   bool
	Envelope Envelope
}

// Valid reports whether no errors were found.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Validate inspects the envelope at path. It only returns an error when the
// file cannot be read; parse failures are reported in Result.Errors.
func (s *Store) Validate(path string) (Result, error) {
	env, err := s.Read(path)
	if err != nil {
		if errors.Is(err, ErrMissingFrontMatter) || errors.Is(err, ErrMalformedFrontMatter) {
			return Result{Errors: []string{err.Error()}}, nil
		}
		return Result{}, err
	}
	return Check(env), nil
}

// Check validates an already parsed envelope.
func Check(env Envelope) Result {
	res := Result{Parsed: true, Envelope: env}
	errorf := func(format string, args ...any) {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}
	warnf := func(format string, args ...any) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
	}

	if env.Sequence < 1 {
		errorf("sequence must be >= 1")
	}
	if !env.Type.Valid() {
		errorf("unknown type %q", env.Type)
	}
	if !env.Status.Valid() {
		errorf("unknown status %q", env.Status)
	}
	if strings.TrimSpace(env.Source) == "" {
		errorf("source is required")
	}
	if strings.TrimSpace(env.Target) == "" {
		errorf("target is required")
	}
	if env.CreatedAt.IsZero() {
		errorf("created timestamp is required")
	}
	switch env.Type {
	case TypeDelegation, TypeRevision:
		if env.Task == "" {
			errorf("%s envelope has no Task section", env.Type)
		}
	case TypeResult:
		if env.Output == "" && env.Status != StatusBlocked {
			errorf("result envelope has no Output section")
		}
	}

	if env.Context == "" {
		warnf("Context section is empty")
	}
	if len(env.Constraints) == 0 && env.Type != TypeResult {
		warnf("no Constraints listed")
	}
	if env.Path != "" {
		if stem := strings.TrimSuffix(filepath.Base(env.Path), fileExt); stem != env.ID {
			warnf("id %q does not match file name %q", env.ID, stem)
		}
	}
	return res
}
