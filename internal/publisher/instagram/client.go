package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/postloom/postloom/internal/config"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/publisher/domain"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	authorizeEndpoint = "https://www.instagram.com/oauth/authorize"

	containerPollInterval = 2 * time.Second
	containerPollMax      = 30
)

// Client talks to the Instagram Graph API. It implements the publisher,
// replier and token exchanger interfaces.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Instagram.GraphBaseURL, "/"),
		appID:      cfg.Instagram.AppID,
		appSecret:  cfg.Instagram.AppSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("instagram.client"),
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternal, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrExternal, err)
	}

	// Rate limits clear on their own, so they retry like a 5xx instead of
	// rejecting the post outright.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", domain.ErrExternal, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(payload, &apiErr)
		return fmt.Errorf("%w: %s (code %d)", domain.ErrRejected, apiErr.Error.Message, apiErr.Error.Code)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrExternal, err)
		}
	}
	return nil
}

// doRetry wraps do with exponential backoff on transient upstream failures.
func (c *Client) doRetry(ctx context.Context, method, path string, params url.Values, out any) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, method, path, params, out)
		if errors.Is(err, domain.ErrExternal) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// AuthorizeURL builds the user consent URL for the Instagram login flow.
func (c *Client) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{}
	params.Set("client_id", c.appID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", "instagram_business_basic,instagram_business_content_publish,instagram_business_manage_messages,instagram_business_manage_comments")
	params.Set("state", state)
	return authorizeEndpoint + "?" + params.Encode()
}

// ExchangeCode trades the authorization code for a long-lived token and
// resolves the professional account behind it.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*connectiondomain.ExchangedToken, error) {
	params := url.Values{}
	params.Set("client_id", c.appID)
	params.Set("client_secret", c.appSecret)
	params.Set("grant_type", "authorization_code")
	params.Set("redirect_uri", redirectURI)
	params.Set("code", code)

	var shortLived struct {
		AccessToken string `json:"access_token"`
		UserID      any    `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/oauth/access_token", params, &shortLived); err != nil {
		return nil, err
	}

	longParams := url.Values{}
	longParams.Set("grant_type", "ig_exchange_token")
	longParams.Set("client_secret", c.appSecret)
	longParams.Set("access_token", shortLived.AccessToken)

	var longLived struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.do(ctx, http.MethodGet, "/access_token", longParams, &longLived); err != nil {
		return nil, err
	}

	meParams := url.Values{}
	meParams.Set("fields", "user_id,username")
	meParams.Set("access_token", longLived.AccessToken)

	var me struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", meParams, &me); err != nil {
		return nil, err
	}

	token := &connectiondomain.ExchangedToken{
		AccessToken:       longLived.AccessToken,
		ExternalAccountID: me.UserID,
	}
	if longLived.ExpiresIn > 0 {
		expires := time.Now().UTC().Add(time.Duration(longLived.ExpiresIn) * time.Second)
		token.ExpiresAt = &expires
	}
	return token, nil
}

type containerResponse struct {
	ID string `json:"id"`
}

// Publish runs the two-phase Graph publish: create a media container, wait
// until it is ready, then publish it to the profile.
func (c *Client) Publish(ctx context.Context, conn *connectiondomain.Connection, item *contentdomain.Item) (*domain.PublishResult, error) {
	containerID, err := c.createContainer(ctx, conn, item)
	if err != nil {
		return nil, err
	}

	// Video containers process asynchronously.
	if item.Kind == contentdomain.KindVideo || item.Kind == contentdomain.KindStory {
		if err := c.waitForContainer(ctx, conn, containerID); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("creation_id", containerID)
	params.Set("access_token", conn.AccessToken)

	var published containerResponse
	if err := c.doRetry(ctx, http.MethodPost, "/"+conn.ExternalAccountID+"/media_publish", params, &published); err != nil {
		return nil, err
	}

	c.log.Info("media published",
		zap.String("external_account_id", conn.ExternalAccountID),
		zap.String("media_id", published.ID))
	return &domain.PublishResult{ExternalMediaID: published.ID}, nil
}

func (c *Client) createContainer(ctx context.Context, conn *connectiondomain.Connection, item *contentdomain.Item) (string, error) {
	params := url.Values{}
	params.Set("access_token", conn.AccessToken)
	if item.Caption != "" {
		params.Set("caption", item.Caption)
	}

	switch item.Kind {
	case contentdomain.KindImage:
		params.Set("image_url", item.MediaURL)
	case contentdomain.KindVideo:
		params.Set("media_type", "REELS")
		params.Set("video_url", item.MediaURL)
	case contentdomain.KindStory:
		params.Set("media_type", "STORIES")
		params.Set("image_url", item.MediaURL)
	case contentdomain.KindCarousel:
		children := make([]string, 0, len(item.ChildURLs))
		for _, childURL := range item.ChildURLs {
			childParams := url.Values{}
			childParams.Set("access_token", conn.AccessToken)
			childParams.Set("image_url", childURL)
			childParams.Set("is_carousel_item", "true")

			var child containerResponse
			if err := c.doRetry(ctx, http.MethodPost, "/"+conn.ExternalAccountID+"/media", childParams, &child); err != nil {
				return "", err
			}
			children = append(children, child.ID)
		}
		params.Set("media_type", "CAROUSEL")
		params.Set("children", strings.Join(children, ","))
	default:
		return "", domain.ErrUnsupportedKind
	}

	var container containerResponse
	if err := c.doRetry(ctx, http.MethodPost, "/"+conn.ExternalAccountID+"/media", params, &container); err != nil {
		return "", err
	}
	return container.ID, nil
}

func (c *Client) waitForContainer(ctx context.Context, conn *connectiondomain.Connection, containerID string) error {
	params := url.Values{}
	params.Set("fields", "status_code")
	params.Set("access_token", conn.AccessToken)

	for attempt := 0; attempt < containerPollMax; attempt++ {
		var status struct {
			StatusCode string `json:"status_code"`
		}
		if err := c.doRetry(ctx, http.MethodGet, "/"+containerID, params, &status); err != nil {
			return err
		}

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("%w: container status %s", domain.ErrRejected, status.StatusCode)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(containerPollInterval):
		}
	}
	return fmt.Errorf("%w: container not ready", domain.ErrExternal)
}

// SendDM sends a direct message from the connected profile.
func (c *Client) SendDM(ctx context.Context, conn *connectiondomain.Connection, recipientID, text string) error {
	payload := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("access_token", conn.AccessToken)

	endpoint := c.baseURL + "/" + conn.ExternalAccountID + "/messages?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(encoded)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternal, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", domain.ErrExternal, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", domain.ErrRejected, resp.StatusCode)
	}
	return nil
}

// ReplyToComment posts a public reply under a comment.
func (c *Client) ReplyToComment(ctx context.Context, conn *connectiondomain.Connection, commentID, text string) error {
	params := url.Values{}
	params.Set("message", text)
	params.Set("access_token", conn.AccessToken)
	return c.doRetry(ctx, http.MethodPost, "/"+commentID+"/replies", params, nil)
}
