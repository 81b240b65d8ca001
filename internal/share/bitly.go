package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raysh454/perfsandbox/internal/webclient"
)

// DefaultBitlyEndpoint is the bit.ly v4 API root.
const DefaultBitlyEndpoint = "https://api-ssl.bitly.com"

// Shortener turns a long URL into a short one.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

// BitlyShortener calls the bit.ly v4 shorten endpoint.
type BitlyShortener struct {
	endpoint string
	token    string
	client   webclient.WebClient
}

func NewBitlyShortener(endpoint, token string, client webclient.WebClient) (*BitlyShortener, error) {
	if token == "" {
		return nil, errors.New("bitly: access token is required")
	}
	if client == nil {
		return nil, errors.New("bitly: http client is nil")
	}
	if endpoint == "" {
		endpoint = DefaultBitlyEndpoint
	}
	return &BitlyShortener{endpoint: strings.TrimRight(endpoint, "/"), token: token, client: client}, nil
}

func (b *BitlyShortener) Shorten(ctx context.Context, longURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{"long_url": longURL})
	if err != nil {
		return "", err
	}
	resp, err := b.client.Do(ctx, &webclient.Request{
		Method: http.MethodPost,
		URL:    b.endpoint + "/v4/shorten",
		Headers: http.Header{
			"Authorization": {"Bearer " + b.token},
			"Content-Type":  {"application/json"},
		},
		Body: payload,
	})
	if err != nil {
		return "", fmt.Errorf("bitly: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("bitly: api returned %d", resp.StatusCode)
	}
	var body struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("bitly: decode response: %w", err)
	}
	if body.Link == "" {
		return "", errors.New("bitly: response has no link")
	}
	return body.Link, nil
}
