package tabichan

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// GetImage fetches an image by ID and returns its base64-encoded payload.
func (c *Client) GetImage(ctx context.Context, id string, country Country) (string, error) {
	if id == "" {
		return "", errors.New("tabichan: image id is required")
	}
	if country == "" {
		country = CountryJapan
	}
	if !country.Valid() {
		return "", fmt.Errorf("tabichan: unsupported country %q", country)
	}

	query := url.Values{
		"id":      {id},
		"country": {string(country)},
	}
	var out struct {
		Base64 string `json:"base64"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/image", query, nil, c.imageTimeout, &out); err != nil {
		return "", err
	}
	if out.Base64 == "" {
		return "", errors.New("tabichan: image response missing payload")
	}
	return out.Base64, nil
}

// ImageBytes fetches an image and decodes it to raw bytes.
func (c *Client) ImageBytes(ctx context.Context, id string, country Country) ([]byte, error) {
	encoded, err := c.GetImage(ctx, id, country)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return raw, nil
}
