package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/clipfetch/clipfetch/log"
)

// FinalURLOptions tunes the manual redirect chase. Some CDNs 403 a HEAD so
// UseGet switches the probe verb; ReturnFlag short-circuits the chase as soon
// as the flagged substring shows up in a Location header.
type FinalURLOptions struct {
	Headers         map[string]string
	MaxRedirects    int
	ReturnFlag      string
	UseGet          bool
	ReturnFailedURL bool
}

// FinalURL chases 3xx responses by hand up to MaxRedirects, returning the URL
// the chain lands on. Relative Locations resolve against the current URL and
// revisiting a URL fails as a redirect loop.
func (d *Downloader) FinalURL(ctx context.Context, rawURL string, opts FinalURLOptions) (string, error) {
	if opts.MaxRedirects <= 0 {
		return rawURL, nil
	}

	current := rawURL
	visited := map[string]bool{rawURL: true}
	client := d.noRedirectClient()

	for hop := 0; hop <= opts.MaxRedirects; hop++ {
		method := http.MethodHead
		if opts.UseGet {
			method = http.MethodGet
		}
		req, err := http.NewRequestWithContext(ctx, method, current, nil)
		if err != nil {
			return "", &Error{URL: current, Err: err}
		}
		applyHeaders(req, opts.Headers)

		resp, err := client.Do(req)
		if err != nil {
			return "", &Error{URL: current, Err: err}
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		resp.Body.Close()

		if !isRedirect(resp.StatusCode) {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return current, nil
			}
			if opts.ReturnFailedURL {
				return current, nil
			}
			return "", &Error{URL: current, Err: fmt.Errorf("unexpected status %d while resolving", resp.StatusCode)}
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", &Error{URL: current, Err: fmt.Errorf("redirect status %d without a Location header", resp.StatusCode)}
		}
		next, err := resolveLocation(current, loc)
		if err != nil {
			return "", &Error{URL: current, Err: err}
		}
		if opts.ReturnFlag != "" && strings.Contains(next, opts.ReturnFlag) {
			return next, nil
		}
		if visited[next] {
			return "", &Error{URL: current, Err: fmt.Errorf("redirect loop through %s", log.RedactURL(next))}
		}
		visited[next] = true
		current = next
	}
	return "", &Error{URL: rawURL, Err: fmt.Errorf("more than %d redirects", opts.MaxRedirects)}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("error parsing current url: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("error parsing Location header: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
