// Package avatars tracks the hub's featured avatar listings and hands each
// bot a stable avatar reference.
package avatars

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	searchPath      = "/api/v1/media/search?source=avatar_listings&filter=featured"
	refreshInterval = 60 * time.Second
	fetchTimeout    = 10 * time.Second
)

type Catalog struct {
	baseURL string
	hc      *http.Client
	log     *log.Logger

	// Drawn once per process so bots keep their avatar across catalog
	// refreshes while different runners still vary their picks.
	rotationOffset int

	mu           sync.Mutex
	allRefs      []string
	fullbodyRefs []string
}

func New(baseURL string, hc *http.Client, logger *log.Logger) *Catalog {
	if hc == nil {
		hc = &http.Client{Timeout: fetchTimeout}
	}
	return &Catalog{
		baseURL:        strings.TrimRight(baseURL, "/"),
		hc:             hc,
		log:            logger,
		rotationOffset: rand.Intn(1000),
	}
}

type listingResponse struct {
	Entries []struct {
		Gltfs struct {
			Avatar string `json:"avatar"`
		} `json:"gltfs"`
		Tags struct {
			Tags []string `json:"tags"`
		} `json:"tags"`
	} `json:"entries"`
}

// Refresh fetches the listing. On failure the previous refs are retained.
func (c *Catalog) Refresh(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+searchPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("avatar listing: status %d", resp.StatusCode)
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("avatar listing: %w", err)
	}

	var all, fullbody []string
	seenAll := map[string]bool{}
	seenFull := map[string]bool{}
	for _, e := range listing.Entries {
		ref := strings.TrimSpace(e.Gltfs.Avatar)
		if ref == "" {
			continue
		}
		if !seenAll[ref] {
			seenAll[ref] = true
			all = append(all, ref)
		}
		if hasBodyTag(e.Tags.Tags) && !seenFull[ref] {
			seenFull[ref] = true
			fullbody = append(fullbody, ref)
		}
	}

	c.mu.Lock()
	c.allRefs = all
	c.fullbodyRefs = fullbody
	c.mu.Unlock()
	return nil
}

// Run refreshes the catalog periodically; failures log and keep the
// previous listing.
func (c *Catalog) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && c.log != nil {
				c.log.Printf("avatar refresh: %v", err)
			}
		}
	}
}

// AvatarFor deterministically assigns an avatar to bot index n (1-based),
// preferring fullbody listings. An empty catalog yields "".
func (c *Catalog) AvatarFor(n int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs := c.fullbodyRefs
	if len(refs) == 0 {
		refs = c.allRefs
	}
	if len(refs) == 0 {
		return ""
	}
	return refs[(n-1+c.rotationOffset)%len(refs)]
}

func hasBodyTag(tags []string) bool {
	for _, t := range tags {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "fullbody", "rpm":
			return true
		}
	}
	return false
}
