// Package config loads the proxy core's configuration inputs: the prefetch
// list, the reference request-order table, dependency and think-time tables,
// and the calibration toggles.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

// Tier-2 fallback strategies for the replay matcher.
const (
	Tier2Sift4           = "sift4"
	Tier2LastTokenPrefix = "last_token_prefix"
)

// Calibration carries the toggles that select between behavior variants
// observed in different calibration runs. The defaults come from
// DefaultCalibration; the zero value differs (demotion off, empty strategy).
type Calibration struct {
	// DemotePrefetched enables the low-priority classification for
	// prefetched resources during serialization. When false every
	// resource is treated as high priority.
	DemotePrefetched bool `toml:"demote_prefetched"`

	// Tier2Strategy selects the matcher fallback: "sift4" (bounded edit
	// distance) or "last_token_prefix" (last-token common-prefix score).
	Tier2Strategy string `toml:"tier2_strategy"`

	// CheckRedirect invalidates a matched 301/302 whose Location path
	// equals the request path on the same host.
	CheckRedirect bool `toml:"check_redirect"`

	// TLS assets for the MITM listener and the upstream trust store.
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	CACertFile  string `toml:"ca_cert_file"`
}

// DefaultCalibration returns the documented intended policy: prefetched
// resources are demoted and Tier-2 uses the bounded edit distance.
func DefaultCalibration() Calibration {
	return Calibration{
		DemotePrefetched: true,
		Tier2Strategy:    Tier2Sift4,
	}
}

// LoadCalibration reads a TOML calibration file. A missing path returns the
// defaults.
func LoadCalibration(path string) (Calibration, error) {
	cal := DefaultCalibration()
	if path == "" {
		return cal, nil
	}
	if _, err := toml.DecodeFile(path, &cal); err != nil {
		return cal, errors.NewIOError("reading calibration file", err)
	}
	switch cal.Tier2Strategy {
	case Tier2Sift4, Tier2LastTokenPrefix:
	default:
		return cal, errors.NewConfigError("tier2_strategy", nil)
	}
	return cal, nil
}

// SafeGetenv returns the value of a required environment variable, or a
// missing-config error naming it.
func SafeGetenv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", errors.NewConfigError(name, nil)
	}
	return value, nil
}

// readLines streams the non-empty lines of a file.
func readLines(path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewIOError("opening "+path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.NewIOError("reading "+path, err)
	}
	return nil
}

// RequestOrder is the immutable reference table mapping scheme-stripped URL
// to the rank at which the page loader issued it during the reference load.
type RequestOrder struct {
	ranks map[string]int
}

// LoadRequestOrder reads one URL per line; the 0-based line index is the
// ordinal. Blank lines are skipped and a repeated URL keeps its first
// ordinal, so ordinals number the distinct URLs in file order.
func LoadRequestOrder(path string) (*RequestOrder, error) {
	table := &RequestOrder{ranks: make(map[string]int)}
	err := readLines(path, func(line string) error {
		url := urlutil.EscapePageURL(line)
		if _, ok := table.ranks[url]; !ok {
			table.ranks[url] = len(table.ranks)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// Rank returns the ordinal for a normalized URL.
func (t *RequestOrder) Rank(escapedURL string) (int, bool) {
	rank, ok := t.ranks[escapedURL]
	return rank, ok
}

// Len returns the number of table entries. Synthetic request ids start past
// this value so table ordinals occupy the low half of the id space.
func (t *RequestOrder) Len() int {
	return len(t.ranks)
}

// PrefetchResource is one entry of the prefetch file.
type PrefetchResource struct {
	URL  string // as listed, used verbatim in the synthesized Link header
	Type string // Image | Script | Stylesheet | Font | XHR | Document | DEFAULT
}

// Prefetch is the immutable set of resources designated safe to preload,
// preserving file order.
type Prefetch struct {
	Order     []PrefetchResource
	byEscaped map[string]string
}

// LoadPrefetch reads whitespace-separated "<url> <resource-type> ..." lines.
// Only the first two tokens of each line are used.
func LoadPrefetch(path string) (*Prefetch, error) {
	p := &Prefetch{byEscaped: make(map[string]string)}
	err := readLines(path, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return errors.NewIOError("parsing prefetch file",
				errors.NewParseError("line needs <url> <resource-type>: "+line, nil))
		}
		res := PrefetchResource{URL: fields[0], Type: fields[1]}
		escaped := urlutil.EscapePageURL(res.URL)
		if _, ok := p.byEscaped[escaped]; !ok {
			p.Order = append(p.Order, res)
			p.byEscaped[escaped] = res.Type
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Has reports whether a normalized URL is in the prefetch set.
func (p *Prefetch) Has(escapedURL string) bool {
	_, ok := p.byEscaped[escapedURL]
	return ok
}

// ThinkTimes maps full URLs to the server think time, in milliseconds, to
// emulate before emitting the matched response.
type ThinkTimes struct {
	millis map[string]int
}

// LoadThinkTimes reads "<full-url> <milliseconds>" lines.
func LoadThinkTimes(path string) (*ThinkTimes, error) {
	t := &ThinkTimes{millis: make(map[string]int)}
	err := readLines(path, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return errors.NewIOError("parsing think-time file",
				errors.NewParseError("line needs <url> <milliseconds>: "+line, nil))
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil {
			return errors.NewIOError("parsing think-time file", err)
		}
		t.millis[fields[0]] = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Millis returns the configured delay for a full URL.
func (t *ThinkTimes) Millis(url string) (int, bool) {
	if t == nil {
		return 0, false
	}
	ms, ok := t.millis[url]
	return ms, ok
}

// CachableResources is the set of "host+path" URLs allowed a positive
// max-age during replay; everything else replays with no-store.
type CachableResources struct {
	urls map[string]struct{}
}

// LoadCachableResources reads one URL per line. A missing file yields an
// empty set rather than an error, matching the optional nature of the input.
func LoadCachableResources(path string) *CachableResources {
	c := &CachableResources{urls: make(map[string]struct{})}
	_ = readLines(path, func(line string) error {
		c.urls[line] = struct{}{}
		return nil
	})
	return c
}

// Has reports whether host+path is cachable.
func (c *CachableResources) Has(url string) bool {
	if c == nil {
		return false
	}
	_, ok := c.urls[url]
	return ok
}

// PreloadAsAttribute maps a resource type to the "as" attribute suffix used
// in synthesized Link preload headers. XHR and DEFAULT resources get none.
func PreloadAsAttribute(resourceType string) string {
	switch resourceType {
	case "Image":
		return ";as=image"
	case "Stylesheet":
		return ";as=style"
	case "Script":
		return ";as=script"
	case "Font":
		return ";as=font;crossorigin"
	default:
		return ""
	}
}
