package memory

import (
	"fmt"
	"strings"

	"github.com/syntrixbase/bizdata/internal/pubsub"
)

// checkSubject rejects subjects with empty tokens or whitespace. Patterns may
// use "*" for one token and a trailing ">" for the rest; published subjects
// may use neither.
func checkSubject(subject string, pattern bool) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return fmt.Errorf("%w: %q", pubsub.ErrInvalidSubject, subject)
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return fmt.Errorf("%w: empty token in %q", pubsub.ErrInvalidSubject, subject)
		case tok == "*" || tok == ">":
			if !pattern {
				return fmt.Errorf("%w: wildcard in published subject %q", pubsub.ErrInvalidSubject, subject)
			}
			if tok == ">" && i != len(tokens)-1 {
				return fmt.Errorf("%w: %q must end with >", pubsub.ErrInvalidSubject, subject)
			}
		}
	}
	return nil
}

// matchSubject walks pattern and subject token by token.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}
	for {
		ptok, prest, pmore := strings.Cut(pattern, ".")
		if ptok == ">" {
			return true
		}
		stok, srest, smore := strings.Cut(subject, ".")
		if ptok != "*" && ptok != stok {
			return false
		}
		if !pmore || !smore {
			return pmore == smore
		}
		pattern, subject = prest, srest
	}
}
