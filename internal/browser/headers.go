package browser

import (
	"math/rand"
	"sync"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36 OPR/118.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:136.0) Gecko/20100101 Firefox/136.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36 Edg/134.0.0.0",
}

// DefaultUserAgents returns a copy of the built-in user agent pool.
func DefaultUserAgents() []string {
	return append([]string(nil), defaultUserAgents...)
}

// Identity draws request identities (user agent and header set) from a pool.
type Identity struct {
	mu         sync.Mutex
	rng        *rand.Rand
	userAgents []string
}

func NewIdentity(userAgents []string) *Identity {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	return &Identity{
		rng:        rand.New(rand.NewSource(rand.Int63())),
		userAgents: append([]string(nil), userAgents...),
	}
}

func (i *Identity) UserAgent() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userAgents[i.rng.Intn(len(i.userAgents))]
}

// Headers returns the baseline browser headers merged with overrides.
// Overrides win on key collision.
func (i *Identity) Headers(overrides map[string]string) map[string]string {
	headers := map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Encoding":           "gzip, deflate, br, zstd",
		"Accept-Language":           "en-US,en;q=0.9",
		"Cache-Control":             "max-age=0",
		"User-Agent":                i.UserAgent(),
		"Priority":                  "u=0, i",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Ch-Ua":                 `"Not.A/Brand";v="24", "Opera GX";v="118", "Chromium";v="134"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
	}

	for k, v := range overrides {
		headers[k] = v
	}

	return headers
}

var defaultIdentity = NewIdentity(nil)

// BuildHeaders is Identity.Headers on the built-in user agent pool.
func BuildHeaders(overrides map[string]string) map[string]string {
	return defaultIdentity.Headers(overrides)
}
