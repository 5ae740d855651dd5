package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
)

const (
	maxDescriptionCandidates = 3
	weakDescriptionLength    = 100
	enhancementSeparator     = "\n\n---\n\n"
	originalSummaryHeader    = "\n\nOriginal summary: "
)

var genericDescriptions = []string{
	"see attached",
	"see attachment",
	"see solicitation",
	"description not available",
	"no description",
	"n/a",
	"none",
}

var textResourceExts = map[string]bool{
	".htm":  true,
	".html": true,
	".txt":  true,
	".rtf":  true,
}

// EnhanceDescription fetches up to three description sources not yet in
// n.DescriptionSources and merges them into n.Description. A weak current
// description is replaced, otherwise new text is appended. Fetch failures
// are logged and skipped. Calling it again with no new sources returns the
// same text.
func (c *SAMClient) EnhanceDescription(ctx context.Context, n *models.Notice) (string, error) {
	current := strings.TrimSpace(n.Description)
	if current == "" && !isURL(n.RawDescription) {
		current = strings.TrimSpace(n.RawDescription)
	}

	candidates := c.descriptionCandidates(n)
	if len(candidates) == 0 {
		n.Description = current
		return current, nil
	}

	result := current
	weak := isWeakDescription(current)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		text, err := c.fetchDescription(ctx, cand)
		if err != nil {
			c.log.Warn("description source failed",
				zap.String("notice_id", n.NoticeID),
				zap.String("url", redactURL(cand.url)),
				zap.Error(err))
			if IsNotFound(err) {
				n.DescriptionSources = appendUnique(n.DescriptionSources, cand.url)
			}
			continue
		}
		n.DescriptionSources = appendUnique(n.DescriptionSources, cand.url)

		if len(text) < c.cfg.MinEnhancementLength {
			continue
		}
		switch {
		case weak:
			merged := text
			if current != "" && !isURL(current) && !strings.Contains(text, current) {
				merged += originalSummaryHeader + current
			}
			result = merged
			weak = false
		case !strings.Contains(result, text):
			if result == "" {
				result = text
			} else {
				result += enhancementSeparator + text
			}
		}
	}

	result = TruncateText(result, c.cfg.MaxDescriptionLength)
	n.Description = result
	return result, nil
}

type descCandidate struct {
	url   string
	keyed bool
}

func (c *SAMClient) descriptionCandidates(n *models.Notice) []descCandidate {
	seen := make(map[string]bool, len(n.DescriptionSources))
	for _, s := range n.DescriptionSources {
		seen[s] = true
	}

	var out []descCandidate
	add := func(raw string, keyed bool) {
		raw = strings.TrimSpace(raw)
		if len(out) >= maxDescriptionCandidates || !isURL(raw) || seen[raw] {
			return
		}
		seen[raw] = true
		out = append(out, descCandidate{url: raw, keyed: keyed})
	}

	add(n.RawDescription, isSAMAPIURL(n.RawDescription))
	add(n.AdditionalInfoLink, false)
	for _, link := range n.ResourceLinks {
		if isTextResource(link) {
			add(link, false)
		}
	}
	return out
}

func (c *SAMClient) fetchDescription(ctx context.Context, cand descCandidate) (string, error) {
	key := descCachePrefix + sha1Hex(cand.url)
	if b, ok := c.cache.Get(ctx, key); ok {
		return string(b), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DescriptionTimeout)
	defer cancel()

	var (
		doc *FetchedDocument
		err error
	)
	if cand.keyed {
		doc, err = c.fetcher.FetchWithKey(ctx, cand.url, nil, c.pool)
	} else {
		doc, err = c.content.Fetch(ctx, cand.url, nil)
	}
	if err != nil {
		return "", err
	}

	text, err := c.norm.Normalize(doc.Body, doc.ContentType)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("empty description body")
	}
	c.cache.Set(ctx, key, []byte(text), c.cfg.DescriptionTTL)
	return text, nil
}

func isWeakDescription(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < weakDescriptionLength || isURL(s) {
		return true
	}
	lower := strings.ToLower(strings.TrimRight(s, ". "))
	for _, g := range genericDescriptions {
		if lower == g || (len(lower) < 2*weakDescriptionLength && strings.HasPrefix(lower, g)) {
			return true
		}
	}
	return false
}

func isSAMAPIURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "api.sam.gov", "api-alpha.sam.gov":
		return u.Scheme == "https"
	}
	return false
}

func isTextResource(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return textResourceExts[strings.ToLower(path.Ext(u.Path))]
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
