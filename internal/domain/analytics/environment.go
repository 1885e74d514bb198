package analytics

import (
	"net/url"
	"sync"
)

// StaticEnvironment is an Environment whose values are set by the host.
// It is safe for concurrent use.
type StaticEnvironment struct {
	mu       sync.RWMutex
	url      string
	title    string
	referrer string
	ua       string
	viewport Viewport
	language string
}

// NewStaticEnvironment creates an environment for the given user agent and language
func NewStaticEnvironment(userAgent, language string, viewport Viewport) *StaticEnvironment {
	return &StaticEnvironment{
		ua:       userAgent,
		language: language,
		viewport: viewport,
	}
}

// Navigate records a new location. The previous URL becomes the referrer.
func (e *StaticEnvironment) Navigate(url, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url != "" {
		e.referrer = e.url
	}
	e.url = url
	e.title = title
}

// FollowPath moves the current URL to path, resolved against the current
// URL. The previous URL becomes the referrer.
func (e *StaticEnvironment) FollowPath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := path
	if base, err := url.Parse(e.url); err == nil && e.url != "" {
		if ref, err := url.Parse(path); err == nil {
			next = base.ResolveReference(ref).String()
		}
	}
	if e.url != "" {
		e.referrer = e.url
	}
	e.url = next
}

// SetReferrer overrides the referrer
func (e *StaticEnvironment) SetReferrer(referrer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.referrer = referrer
}

func (e *StaticEnvironment) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.url
}

func (e *StaticEnvironment) Title() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.title
}

func (e *StaticEnvironment) Referrer() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.referrer
}

func (e *StaticEnvironment) UserAgent() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ua
}

func (e *StaticEnvironment) Viewport() Viewport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewport
}

func (e *StaticEnvironment) Language() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.language
}
