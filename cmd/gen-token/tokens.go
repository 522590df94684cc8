package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tasklist/api"
)

func generateTokens(secret string, opts options, args []string) ([]string, error) {
	tokens := make([]string, opts.count)
	for i := range tokens {
		var subject string
		switch {
		case len(args) > 0:
			subject = args[0]
		case opts.count == 1:
			subject = opts.prefix
		default:
			subject = fmt.Sprintf("%s-%d", opts.prefix, opts.start+i)
		}

		tok, err := api.IssueToken(secret, subject, opts.ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
