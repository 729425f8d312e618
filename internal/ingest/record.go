// Package ingest is the boundary where normalized job records from the
// external scraper, admins, or the job:ingest task become Job rows.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

const (
	identifierCharset = "0123456789abcdefghijklmnopqrstuvwxyz"
	identifierLength  = 14
	requirementsSep   = "; "
)

// Requirements accepts either a JSON list or a single delimited string.
type Requirements []string

func (r *Requirements) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("requirements must be a string or a list of strings")
	}
	*r = splitRequirements(single)
	return nil
}

// Record is one job listing as handed over by a producer.
type Record struct {
	JobIdentifier string       `json:"jobIdentifier,omitempty"`
	Title         string       `json:"title"`
	Company       string       `json:"company"`
	Location      string       `json:"location,omitempty"`
	Salary        string       `json:"salary,omitempty"`
	Type          string       `json:"type,omitempty"`
	Description   string       `json:"description,omitempty"`
	Requirements  Requirements `json:"requirements,omitempty"`
	Source        string       `json:"source,omitempty"`
	SourceURL     string       `json:"sourceUrl,omitempty"`
}

// Normalize validates rec and converts it to an active Job stamped at now.
func Normalize(rec Record, now time.Time) (database.Job, error) {
	title := strings.TrimSpace(rec.Title)
	company := strings.TrimSpace(rec.Company)
	if title == "" {
		return database.Job{}, errcode.Validation("ingest.Normalize", "title is required")
	}
	if company == "" {
		return database.Job{}, errcode.Validation("ingest.Normalize", "company is required")
	}

	identifier := strings.TrimSpace(rec.JobIdentifier)
	if identifier == "" {
		id, err := gonanoid.Generate(identifierCharset, identifierLength)
		if err != nil {
			return database.Job{}, errcode.Internal("ingest.Normalize", err)
		}
		identifier = "job_" + id
	}

	source := strings.ToLower(strings.TrimSpace(rec.Source))
	if source == "" {
		source = "manual"
	}

	checked := now.UTC()
	return database.Job{
		JobIdentifier: identifier,
		Title:         title,
		Company:       company,
		Location:      strings.TrimSpace(rec.Location),
		Salary:        strings.TrimSpace(rec.Salary),
		Type:          strings.TrimSpace(rec.Type),
		Description:   strings.TrimSpace(rec.Description),
		Requirements:  JoinRequirements(rec.Requirements),
		Source:        source,
		SourceURL:     strings.TrimSpace(rec.SourceURL),
		IsActive:      true,
		LastCheckedAt: &checked,
	}, nil
}

// JoinRequirements trims each entry, drops empties, and joins with "; ".
func JoinRequirements(items []string) string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, requirementsSep)
}

func splitRequirements(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
