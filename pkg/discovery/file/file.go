// Package file provides seed discovery from a peers file, with an
// optional environment variable override.
package file

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirimatin/go-consensus/pkg/discovery"
)

// Options configures file-based discovery.
type Options struct {
	// Path to a file with one seed per line; '#' starts a comment and
	// comma-separated entries per line are allowed.
	Path string
	// Env names an environment variable that overrides the file when
	// set and non-empty.
	Env string
	// Refresh bounds how long a cached read is served. Defaults to 5s.
	Refresh time.Duration
}

type fileSeeds struct {
	opts Options

	mu     sync.Mutex
	loaded time.Time
	mtime  time.Time
	cache  []string
}

// New returns a Discovery backed by the peers file in opts.
func New(opts Options) discovery.Discovery {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	return &fileSeeds{opts: opts}
}

func (f *fileSeeds) Seeds() []string {
	if f.opts.Env != "" {
		if v := strings.TrimSpace(os.Getenv(f.opts.Env)); v != "" {
			return parseLine(v)
		}
	}
	if f.opts.Path == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	stat, err := os.Stat(f.opts.Path)
	if err != nil {
		return nil
	}
	now := time.Now()
	if stat.ModTime().After(f.mtime) || now.Sub(f.loaded) >= f.opts.Refresh {
		f.cache = loadFile(f.opts.Path)
		f.loaded = now
		f.mtime = stat.ModTime()
	}
	return append([]string(nil), f.cache...)
}

func loadFile(path string) []string {
	fh, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer fh.Close()

	set := make(map[string]struct{})
	s := bufio.NewScanner(fh)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, p := range parseLine(line) {
			set[p] = struct{}{}
		}
	}
	if err := s.Err(); err != nil {
		return nil
	}
	out := make([]string, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}

func parseLine(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
