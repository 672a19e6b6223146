package scraper

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/chavrod/shopwiz/config"
)

// browserSession owns one headless browser and one stealth page for the
// lifetime of a single adapter fetch.
type browserSession struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// openSession launches a headless browser, connects, and prepares a stealth
// page with a realistic user agent.
func openSession(ctx context.Context, cfg *config.Config) (*browserSession, error) {
	controlURL, err := launcher.New().Headless(cfg.Headless).Launch()
	if err != nil {
		return nil, classifyFault(err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, classifyFault(err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		return nil, classifyFault(err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
		browser.Close()
		return nil, classifyFault(err)
	}

	return &browserSession{browser: browser, page: page, timeout: cfg.Timeout}, nil
}

func (s *browserSession) Close() {
	if s == nil {
		return
	}
	if s.page != nil {
		s.page.Close()
	}
	if s.browser != nil {
		s.browser.Close()
	}
}

// load navigates to url and waits for the results-container selector. The
// caller treats an error as "stop paginating", never as a fatal fault.
func (s *browserSession) load(url, waitSelector string) error {
	page := s.page.Timeout(s.timeout)
	if err := page.Navigate(url); err != nil {
		return classifyFault(err)
	}
	if err := page.WaitLoad(); err != nil {
		return classifyFault(err)
	}
	if _, err := page.Element(waitSelector); err != nil {
		return ErrTimeout{Err: err}
	}
	return nil
}

// html snapshots the current DOM for goquery-based extraction.
func (s *browserSession) html() (string, error) {
	content, err := s.page.Timeout(s.timeout).HTML()
	if err != nil {
		return "", classifyFault(err)
	}
	return content, nil
}

// hasText reports whether any element matched by sel contains needle,
// case-insensitively. A lookup failure reads as "not present".
func (s *browserSession) hasText(sel, needle string) bool {
	has, el, err := s.page.Timeout(s.timeout).Has(sel)
	if err != nil || !has || el == nil {
		return false
	}
	text, err := el.Text()
	if err != nil {
		return false
	}
	return containsFold(text, needle)
}

// elementText extracts trimmed text from the first match under el, or "".
func elementText(el *rod.Element, sel string) string {
	child, err := el.Element(sel)
	if err != nil {
		return ""
	}
	text, err := child.Text()
	if err != nil {
		return ""
	}
	return trim(text)
}

// elementAttr extracts a child attribute, or "".
func elementAttr(el *rod.Element, sel, attr string) string {
	child, err := el.Element(sel)
	if err != nil {
		return ""
	}
	value, err := child.Attribute(attr)
	if err != nil || value == nil {
		return ""
	}
	return trim(*value)
}
