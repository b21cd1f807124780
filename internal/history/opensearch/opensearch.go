// Package opensearch indexes camrelay events into OpenSearch or Elasticsearch.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/camrelay/internal/history"
)

// Sink POSTs one flat document per event to {baseURL}/{index}/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

// doc is the indexed shape; @timestamp lets dashboards pick the time field.
type doc struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Process   string    `json:"process"`
	PID       int       `json:"pid"`
	Strategy  string    `json:"strategy,omitempty"`
	Status    string    `json:"status"`
	ExitError string    `json:"exit_error,omitempty"`
}

func toDoc(e history.Event) doc {
	r := e.Record
	return doc{
		Timestamp: e.OccurredAt.UTC(),
		Event:     string(e.Type),
		Process:   r.Name,
		PID:       r.PID,
		Strategy:  r.Strategy,
		Status:    r.Status,
		ExitError: r.Error,
	}
}

func (d doc) event() history.Event {
	return history.Event{
		Type:       history.EventType(d.Event),
		OccurredAt: d.Timestamp,
		Record: history.Record{
			Name:     d.Process,
			PID:      d.PID,
			Strategy: d.Strategy,
			Status:   d.Status,
			Error:    d.ExitError,
		},
	}
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(toDoc(e))
	if err != nil {
		return err
	}
	resp, err := s.post(ctx, "/_doc", b)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Recent returns up to limit events sorted by @timestamp, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = history.DefaultRecentLimit
	}
	q := map[string]any{
		"size": limit,
		"sort": []any{map[string]any{"@timestamp": map[string]string{"order": "desc"}}},
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	resp, err := s.post(ctx, "/_search", b)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Hits struct {
			Hits []struct {
				Source doc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("opensearch search response: %w", err)
	}
	out := make([]history.Event, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		out = append(out, h.Source.event())
	}
	return out, nil
}

func (s *Sink) post(ctx context.Context, suffix string, body []byte) (*http.Response, error) {
	u := s.baseURL + "/" + s.index + suffix
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("opensearch %s status %d: %s", suffix, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp, nil
}
