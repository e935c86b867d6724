package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jsha/blocktogether/internal/models"
	"golang.org/x/time/rate"
)

// Remote error codes carried in the response body.
const (
	codeRateLimited     = 88
	codeTargetSuspended = 63
	codeSourceSuspended = 64
	codeInvalidToken    = 89
	codeNotFound        = 50
)

// HTTPClient is the production Client: a REST client paced by a shared
// token bucket so concurrent fetch cycles stay inside the remote service's
// rate budget.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(baseURL, token string, rps float64, burst int) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type errorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type blockIDsBody struct {
	IDs        []string `json:"ids"`
	NextCursor string   `json:"next_cursor_str"`
}

type friendshipBody struct {
	Relationship struct {
		Source struct {
			Following  bool `json:"following"`
			FollowedBy bool `json:"followed_by"`
		} `json:"source"`
	} `json:"relationship"`
}

func (c *HTTPClient) ListBlocks(ctx context.Context, user *models.User, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("user_id", user.UID)
	q.Set("cursor", cursor)
	// Numeric ids overflow float64; always ask for strings.
	q.Set("stringify_ids", "true")

	var body blockIDsBody
	if err := c.do(ctx, http.MethodGet, "/blocks/ids.json", q, &body); err != nil {
		return nil, err
	}
	next := body.NextCursor
	if next == "" {
		next = models.CursorEnd
	}
	return &Page{IDs: body.IDs, NextCursor: next}, nil
}

func (c *HTTPClient) Mutate(ctx context.Context, user *models.User, typ, targetUID string) error {
	var path string
	switch typ {
	case models.TypeBlock:
		path = "/blocks/create.json"
	case models.TypeUnblock:
		path = "/blocks/destroy.json"
	default:
		return fmt.Errorf("remote: unknown mutation type %q", typ)
	}

	q := url.Values{}
	q.Set("user_id", user.UID)
	q.Set("target_id", targetUID)
	return c.do(ctx, http.MethodPost, path, q, nil)
}

func (c *HTTPClient) Friendship(ctx context.Context, user *models.User, targetUID string) (*FriendshipInfo, error) {
	q := url.Values{}
	q.Set("source_id", user.UID)
	q.Set("target_id", targetUID)

	var body friendshipBody
	if err := c.do(ctx, http.MethodGet, "/friendships/show.json", q, &body); err != nil {
		if errors.Is(err, ErrTargetSuspended) {
			return &FriendshipInfo{TargetSuspended: true}, nil
		}
		return nil, err
	}
	return &FriendshipInfo{
		Following:  body.Relationship.Source.Following,
		FollowedBy: body.Relationship.Source.FollowedBy,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.classify(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote response decode failed: %w", err)
	}
	return nil
}

// classify maps an HTTP error response to a sentinel kind where possible.
func (c *HTTPClient) classify(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	for _, e := range body.Errors {
		switch e.Code {
		case codeRateLimited:
			return ErrRateLimited
		case codeTargetSuspended:
			return ErrTargetSuspended
		case codeSourceSuspended, codeInvalidToken:
			return ErrUnauthorized
		case codeNotFound:
			return ErrNotFound
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return fmt.Errorf("remote returned status %d", resp.StatusCode)
}
