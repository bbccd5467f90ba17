// Package metadata publishes credential metadata documents to a
// content-addressed pinning service and returns the resulting URI.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/academicchain/issuance-be/internal/config"
	"github.com/academicchain/issuance-be/internal/worker/domain"
)

const defaultPinTimeout = 30 * time.Second

// Document is the metadata payload pinned for each credential
type Document struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	UniqueHash     string            `json:"unique_hash"`
	InstitutionID  string            `json:"institution_id"`
	StudentName    string            `json:"student_name"`
	DegreeName     string            `json:"degree_name"`
	GraduationDate string            `json:"graduation_date"`
	IssuedAt       time.Time         `json:"issued_at"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Publisher pins metadata documents and returns content-addressed URIs
type Publisher interface {
	Publish(ctx context.Context, doc *Document) (string, error)
}

// PinPublisher publishes documents to a Pinata-compatible pinning endpoint
type PinPublisher struct {
	pinURL     string
	apiKey     string
	httpClient *http.Client
}

// NewPinPublisher creates a publisher for the configured pinning service
func NewPinPublisher(cfg config.MetadataConfig) *PinPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPinTimeout
	}
	return &PinPublisher{
		pinURL:     cfg.PinURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type pinRequest struct {
	PinataContent  *Document         `json:"pinataContent"`
	PinataMetadata map[string]string `json:"pinataMetadata,omitempty"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Publish pins the document and returns its ipfs:// URI. Failures are item
// scoped: a pin rejection affects only the credential being processed, and
// the caller mints without a metadata URI rather than failing the item.
func (p *PinPublisher) Publish(ctx context.Context, doc *Document) (string, error) {
	body, err := json.Marshal(pinRequest{
		PinataContent: doc,
		PinataMetadata: map[string]string{
			"name": doc.UniqueHash,
		},
	})
	if err != nil {
		return "", domain.NewItemError(fmt.Errorf("encode metadata: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pinURL, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewItemError(fmt.Errorf("build pin request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", domain.NewItemError(fmt.Errorf("pin request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.NewItemError(fmt.Errorf("read pin response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewItemError(fmt.Errorf("pin service returned status %d", resp.StatusCode))
	}

	var pr pinResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", domain.NewItemError(fmt.Errorf("decode pin response: %w", err))
	}
	if pr.IpfsHash == "" {
		return "", domain.NewItemError(fmt.Errorf("pin service returned empty hash"))
	}

	return "ipfs://" + pr.IpfsHash, nil
}
