package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"pipeline/internal/database/dbtest"
	"pipeline/internal/errcode"
	"pipeline/internal/metrics"
)

func TestRequirementsAcceptsStringOrList(t *testing.T) {
	var list Record
	if err := json.Unmarshal([]byte(`{"title":"t","company":"c","requirements":["Go"," SQL ",""]}`), &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	var single Record
	if err := json.Unmarshal([]byte(`{"title":"t","company":"c","requirements":"Go; SQL\nDocker"}`), &single); err != nil {
		t.Fatalf("string: %v", err)
	}
	if got := JoinRequirements(list.Requirements); got != "Go; SQL" {
		t.Fatalf("list joined = %q", got)
	}
	if got := JoinRequirements(single.Requirements); got != "Go; SQL; Docker" {
		t.Fatalf("string joined = %q", got)
	}
	var bad Record
	if err := json.Unmarshal([]byte(`{"requirements":42}`), &bad); err == nil {
		t.Fatalf("numeric requirements should fail")
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	job, err := Normalize(Record{Title: "  Go Dev ", Company: " Acme ", Source: " LinkedIn "}, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if job.Title != "Go Dev" || job.Company != "Acme" || job.Source != "linkedin" {
		t.Fatalf("trimmed job = %+v", job)
	}
	if !job.IsActive || job.LastCheckedAt == nil || !job.LastCheckedAt.Equal(now) {
		t.Fatalf("activation fields = %+v", job)
	}
	if !strings.HasPrefix(job.JobIdentifier, "job_") || len(job.JobIdentifier) != len("job_")+identifierLength {
		t.Fatalf("generated identifier %q", job.JobIdentifier)
	}

	kept, _ := Normalize(Record{JobIdentifier: "ext-1", Title: "t", Company: "c"}, now)
	if kept.JobIdentifier != "ext-1" || kept.Source != "manual" {
		t.Fatalf("explicit identifier = %+v", kept)
	}

	if _, err := Normalize(Record{Company: "c"}, now); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("missing title: expected validation, got %v", err)
	}
	if _, err := Normalize(Record{Title: "t"}, now); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("missing company: expected validation, got %v", err)
	}
}

func TestCreateBatchReportsPerRecord(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, nil, nil)

	results := svc.CreateBatch(context.Background(), []Record{
		{JobIdentifier: "ext-1", Title: "Go Dev", Company: "Acme"},
		{JobIdentifier: "ext-1", Title: "Go Dev again", Company: "Acme"},
		{Title: "", Company: "Acme"},
		{Title: "Designer", Company: "Globex"},
	})
	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Error != "" || results[0].JobID == 0 {
		t.Fatalf("first record = %+v", results[0])
	}
	if results[1].Error == "" {
		t.Fatalf("duplicate identifier should fail")
	}
	if results[2].Error == "" {
		t.Fatalf("missing title should fail")
	}
	if results[3].Error != "" {
		t.Fatalf("fourth record = %+v", results[3])
	}
	if Failed(results) != 2 {
		t.Fatalf("failed = %d", Failed(results))
	}

	_, err := svc.Create(context.Background(), Record{JobIdentifier: "ext-1", Title: "x", Company: "y"})
	if !errors.Is(err, errcode.ErrConflict) {
		t.Fatalf("duplicate create: expected conflict, got %v", err)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCreateBoundsSourceLabel(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(db, nil, nil)
	other := metrics.JobsIngested.WithLabelValues("other")
	linkedin := metrics.JobsIngested.WithLabelValues("linkedin")
	beforeOther, beforeLinkedIn := counterValue(t, other), counterValue(t, linkedin)

	ctx := context.Background()
	if _, err := svc.Create(ctx, Record{Title: "Go Dev", Company: "Acme", Source: "scraper-run-8841"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, Record{Title: "SRE", Company: "Acme", Source: "LinkedIn"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if got := counterValue(t, other) - beforeOther; got != 1 {
		t.Fatalf("other delta = %v", got)
	}
	if got := counterValue(t, linkedin) - beforeLinkedIn; got != 1 {
		t.Fatalf("linkedin delta = %v", got)
	}
}
