package models

import (
	"strings"
	"time"
)

// Notice is one procurement opportunity from the SAM.gov feed, keyed by the
// feed's stable notice id.
type Notice struct {
	NoticeID           string     `json:"notice_id"`
	SolicitationNumber string     `json:"solicitation_number"`
	Title              string     `json:"title"`
	Agency             string     `json:"agency"` // fullParentPathName, dot separated
	NAICSCode          string     `json:"naics_code"`
	SetAside           string     `json:"set_aside"`
	Type               string     `json:"type"`
	PostedDate         *time.Time `json:"posted_date"`
	ResponseDeadline   *time.Time `json:"response_deadline"`
	Active             bool       `json:"active"`
	PlaceOfPerformance string     `json:"place_of_performance,omitempty"`
	HasPointOfContact  bool       `json:"has_point_of_contact"`

	// RawDescription is the feed value as received. For the v2 search API
	// it is usually a noticedesc URL rather than text.
	RawDescription     string   `json:"raw_description"`
	Description        string   `json:"description"`
	DescriptionSources []string `json:"description_sources"`

	UILink             string   `json:"ui_link"`
	AdditionalInfoLink string   `json:"additional_info_link"`
	ResourceLinks      []string `json:"resource_links"`
	Documents          []DocRef `json:"documents"`

	FetchedAt time.Time `json:"fetched_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Department is the top-level segment of the agency path, e.g.
// "DEPT OF DEFENSE" for "DEPT OF DEFENSE.DEFENSE LOGISTICS AGENCY".
func (n Notice) Department() string {
	if i := strings.Index(n.Agency, "."); i >= 0 {
		return strings.TrimSpace(n.Agency[:i])
	}
	return strings.TrimSpace(n.Agency)
}

// DaysToResponse counts calendar days between now and the response deadline
// in UTC. ok is false when the notice has no deadline.
func (n Notice) DaysToResponse(now time.Time) (days int, ok bool) {
	if n.ResponseDeadline == nil {
		return 0, false
	}
	d := truncateDay(n.ResponseDeadline.UTC())
	t := truncateDay(now.UTC())
	return int(d.Sub(t).Hours() / 24), true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type DocType string

const (
	DocResource       DocType = "resource"
	DocAdditionalInfo DocType = "additional_info"
	DocWebLink        DocType = "web_link"
)

type DocRef struct {
	URL  string  `json:"url"`
	Type DocType `json:"type"`
	Name string  `json:"name"`
}

// NoticeBatch is one page of search results.
type NoticeBatch struct {
	Items           []Notice    `json:"items"`
	TotalCount      int         `json:"total_count"`
	APITotalRecords int         `json:"api_total_records"`
	Limit           int         `json:"limit"`
	Offset          int         `json:"offset"`
	Filters         FiltersEcho `json:"filters"`
}

type FiltersEcho struct {
	PostedFrom string   `json:"posted_from"`
	PostedTo   string   `json:"posted_to"`
	NAICSCodes []string `json:"naics_codes,omitempty"`
	Agencies   []string `json:"agencies,omitempty"`
	Title      string   `json:"title,omitempty"`
	Clamped    bool     `json:"clamped,omitempty"`
}
