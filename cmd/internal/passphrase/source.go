package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a signer keystore passphrase from an environment
// variable or by prompting the operator. The value is cached after the first
// successful retrieval so repeated calls reuse the same secret.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal. label names the keystore in the
// prompt.
func NewSource(envVar, label string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), label: strings.TrimSpace(label)}
}

// Get returns the cached passphrase or resolves it if this is the first call.
// When the environment variable is set the exact value is used; otherwise the
// operator is prompted on stderr. Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("signer keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("signer keystore passphrase required and no terminal available")
			}
			return
		}

		prompt := "Enter signer keystore passphrase: "
		if s.label != "" {
			prompt = fmt.Sprintf("Enter signer keystore passphrase for %s: ", s.label)
		}
		fmt.Fprint(os.Stderr, prompt)
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}

		passphrase := string(bytes)
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New("signer keystore passphrase cannot be empty")
			return
		}

		s.value = passphrase
	})

	return s.value, s.err
}
