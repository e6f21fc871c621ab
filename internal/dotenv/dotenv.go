// Package dotenv reads KEY=VALUE text for bulk import: .env files, shell
// export lines and KEY: VALUE listings such as `heroku config` output.
package dotenv

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/atinyakov/tinysecrets/internal/models"
	"github.com/joho/godotenv"
)

// Result is the outcome of Parse. Pairs keep input order.
type Result struct {
	Pairs []models.KeyValue
	// Unparseable holds lines that were neither pairs, comments nor blank.
	Unparseable []string
	// Empty holds keys whose value was empty.
	Empty []string
}

// Parse reads r line by line. Each non-blank, non-comment line is parsed on
// its own, so one bad line does not reject the rest of the input.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		kv, ok := parseLine(line)
		switch {
		case !ok:
			res.Unparseable = append(res.Unparseable, line)
		case kv.Value == "":
			res.Empty = append(res.Empty, kv.Key)
		default:
			res.Pairs = append(res.Pairs, kv)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return res, nil
}

func parseLine(line string) (models.KeyValue, bool) {
	parsed, err := godotenv.Unmarshal(line)
	if err != nil || len(parsed) != 1 {
		return models.KeyValue{}, false
	}
	for k, v := range parsed {
		if k == "" || strings.ContainsAny(k, " \t") {
			return models.KeyValue{}, false
		}
		return models.KeyValue{Key: k, Value: v}, true
	}
	return models.KeyValue{}, false
}
