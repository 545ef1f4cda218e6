// Package access enforces the user allow-list. Every identifier arriving on
// the API is checked against a roster file before any work happens.
package access

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"trading-assistant/internal/logging"
)

// ErrDenied is returned for identifiers absent from the roster
var ErrDenied = &DeniedError{}

// DeniedError marks a rejected identifier
type DeniedError struct {
	UserID string
}

func (e *DeniedError) Error() string {
	return "access_denied"
}

func (e *DeniedError) Is(target error) bool {
	_, ok := target.(*DeniedError)
	return ok
}

// Gate checks identifiers against a roster file. The file is re-read on every
// check so roster edits take effect without a restart.
type Gate struct {
	rosterPath string
	log        *logging.Logger
}

// NewGate creates a gate backed by the roster file at path
func NewGate(rosterPath string) *Gate {
	return &Gate{
		rosterPath: rosterPath,
		log:        logging.WithComponent("access"),
	}
}

// Check returns nil when userID appears in the roster, *DeniedError when it
// does not, and a wrapped I/O error when the roster cannot be read. An empty
// identifier is always denied.
func (g *Gate) Check(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &DeniedError{UserID: userID}
	}

	roster, err := g.load()
	if err != nil {
		return err
	}

	if _, ok := roster[userID]; !ok {
		g.log.Warn("access denied", "user_id", userID)
		return &DeniedError{UserID: userID}
	}
	return nil
}

// load parses the roster: one identifier per line, blank lines and lines
// starting with '#' ignored, surrounding whitespace trimmed.
func (g *Gate) load() (map[string]struct{}, error) {
	f, err := os.Open(g.rosterPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster %s: %w", g.rosterPath, err)
	}
	defer f.Close()

	roster := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		roster[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", g.rosterPath, err)
	}
	return roster, nil
}
