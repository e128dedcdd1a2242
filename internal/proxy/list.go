package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ParseList reads newline-delimited proxy URLs. Blank lines and lines
// starting with '#' are ignored.
func ParseList(r io.Reader) ([]Proxy, error) {
	var proxies []Proxy
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return proxies, nil
}

// LoadFile parses the proxy list at path. A missing file yields an empty
// list, which means every request goes direct.
func LoadFile(path string) ([]Proxy, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()

	proxies, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("proxy list %s: %w", path, err)
	}
	return proxies, nil
}
