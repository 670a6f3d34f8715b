package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier pushes change notifications to an external webhook, e.g. a
// render cache that needs to drop stale tiles when annotations change
type Notifier struct {
	baseURL    string
	httpClient *http.Client
}

type Client interface {
	NotifySaved(ctx context.Context, annotationID string, version int64) error
	NotifyRemoved(ctx context.Context, annotationID string) error
}

func NewNotifier(baseURL string) *Notifier {
	return &Notifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type SavedNotification struct {
	AnnotationID string `json:"annotation_id"`
	Version      int64  `json:"version"`
}

// NotifySaved reports that annotationID now exists at version
func (n *Notifier) NotifySaved(ctx context.Context, annotationID string, version int64) error {
	url := fmt.Sprintf(
		"%s/internal/annotations/%s/saved",
		n.baseURL,
		annotationID,
	)

	payload := SavedNotification{
		AnnotationID: annotationID,
		Version:      version,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"webhook saved-notification error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	return nil
}

// NotifyRemoved reports that annotationID no longer exists
func (n *Notifier) NotifyRemoved(ctx context.Context, annotationID string) error {
	url := fmt.Sprintf(
		"%s/internal/annotations/%s",
		n.baseURL,
		annotationID,
	)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodDelete,
		url,
		nil,
	)
	if err != nil {
		return err
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"webhook remove-notification error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	return nil
}
