package ingest

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/david/bid-intel/internal/models"
	"go.uber.org/zap"
)

const defaultResourceName = "Resource"

// ExtractDocuments lists the resource, additional-info and web links of n.
// With extractFilenames set, resource names come from a HEAD request's
// Content-Disposition; a failed lookup keeps the URL path segment.
func (c *SAMClient) ExtractDocuments(ctx context.Context, n *models.Notice, extractFilenames bool) []models.DocRef {
	docs := make([]models.DocRef, 0, len(n.ResourceLinks)+2)

	for _, link := range n.ResourceLinks {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		name := nameFromURL(link)
		if extractFilenames {
			if resolved, err := c.resolveFilename(ctx, link); err != nil {
				c.log.Debug("filename resolution failed, using path segment",
					zap.String("url", redactURL(link)),
					zap.Error(err))
			} else if resolved != "" {
				name = resolved
			}
		}
		docs = append(docs, models.DocRef{URL: link, Type: models.DocResource, Name: name})
	}

	if link := strings.TrimSpace(n.AdditionalInfoLink); link != "" {
		docs = append(docs, models.DocRef{URL: link, Type: models.DocAdditionalInfo, Name: "Additional Information"})
	}
	if link := strings.TrimSpace(n.UILink); link != "" {
		docs = append(docs, models.DocRef{URL: link, Type: models.DocWebLink, Name: "View on SAM.gov"})
	}
	return docs
}

func (c *SAMClient) resolveFilename(ctx context.Context, link string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.FilenameRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.cfg.FilenameRetryDelay); err != nil {
				return "", err
			}
		}
		headers, err := c.content.Head(ctx, link)
		if err != nil {
			lastErr = err
			continue
		}
		return filenameFromDisposition(headers.Get("Content-Disposition")), nil
	}
	return "", lastErr
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(path.Base(params["filename"]))
}

func nameFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || !strings.Contains(u.Path, "/") {
		return defaultResourceName
	}
	seg := path.Base(u.Path)
	if seg == "" || seg == "/" || seg == "." {
		return defaultResourceName
	}
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	return seg
}

// DocumentStore persists downloaded attachments.
type DocumentStore interface {
	Save(ctx context.Context, data []byte, name string) (string, error)
}

// StoredDocument describes one saved attachment. Pages is set for PDFs that
// parsed cleanly.
type StoredDocument struct {
	Ref         models.DocRef `json:"ref"`
	Location    string        `json:"location"`
	ContentType string        `json:"content_type"`
	Size        int           `json:"size"`
	Pages       int           `json:"pages,omitempty"`
}

// DownloadDocuments fetches every resource link of n and hands the bytes to
// store. One failed attachment does not stop the others; the first error is
// returned alongside whatever was saved.
func (c *SAMClient) DownloadDocuments(ctx context.Context, n *models.Notice, store DocumentStore) ([]StoredDocument, error) {
	refs := n.Documents
	if len(refs) == 0 {
		refs = c.ExtractDocuments(ctx, n, false)
	}

	var (
		saved    []StoredDocument
		firstErr error
	)
	for _, ref := range refs {
		if ref.Type != models.DocResource {
			continue
		}
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		doc, err := c.content.Fetch(ctx, ref.URL, nil)
		if err != nil {
			c.log.Warn("document download failed",
				zap.String("notice_id", n.NoticeID),
				zap.String("url", redactURL(ref.URL)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("download %s: %w", ref.Name, err)
			}
			continue
		}

		name := ref.Name
		if name == "" || name == defaultResourceName {
			if fromHeader := filenameFromDisposition(doc.Headers.Get("Content-Disposition")); fromHeader != "" {
				name = fromHeader
			}
		}
		location, err := store.Save(ctx, doc.Body, n.NoticeID+"_"+name)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("save %s: %w", name, err)
			}
			continue
		}

		sd := StoredDocument{
			Ref:         ref,
			Location:    location,
			ContentType: doc.ContentType,
			Size:        len(doc.Body),
		}
		if DetectKind(doc.Body, doc.ContentType) == KindPDF {
			pages, err := PDFPageCount(doc.Body)
			if err != nil {
				c.log.Debug("pdf page count failed", zap.String("name", name), zap.Error(err))
			}
			sd.Pages = pages
		}
		c.log.Info("document saved",
			zap.String("notice_id", n.NoticeID),
			zap.String("name", name),
			zap.Int("bytes", sd.Size),
			zap.Int("pages", sd.Pages))
		saved = append(saved, sd)
	}
	return saved, firstErr
}
