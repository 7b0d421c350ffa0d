package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client MusicBrainz Web Service v2 客户端
type Client struct {
	cfg    *config.MusicBrainzConfig
	client *resty.Client
	logger *zap.Logger
}

// NewClient 创建客户端
func NewClient(cfg *config.MusicBrainzConfig, log *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:    cfg,
		client: client,
		logger: logger.Component(log, "musicbrainz"),
	}
}

type artistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
}

type releaseResponse struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	ArtistCredit []artistCredit `json:"artist-credit"`
}

type recordingResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Data  *struct {
		Title string `json:"title"`
	} `json:"data"`
}

// Release 查询 release，作者由 artist-credit 的名字和连接词拼接
func (c *Client) Release(ctx context.Context, id string) (*model.MusicBrainzReleaseInfo, error) {
	var body releaseResponse
	if err := c.get(ctx, "/release/"+id, "artist-credits", &body); err != nil {
		return nil, err
	}

	var author strings.Builder
	for _, credit := range body.ArtistCredit {
		author.WriteString(credit.Name)
		author.WriteString(credit.JoinPhrase)
	}

	info := &model.MusicBrainzReleaseInfo{
		UUID:         id,
		Title:        body.Title,
		Author:       author.String(),
		ThumbnailURL: c.CoverURL(id),
	}
	c.logger.Debug("release resolved",
		zap.String("id", id),
		zap.String("title", info.Title),
		zap.String("author", info.Author))
	return info, nil
}

// Recording 查询 recording
func (c *Client) Recording(ctx context.Context, id string) (*model.MusicBrainzRecordingInfo, error) {
	var body recordingResponse
	if err := c.get(ctx, "/recording/"+id, "releases", &body); err != nil {
		return nil, err
	}

	title := body.Title
	if body.Data != nil && body.Data.Title != "" {
		title = body.Data.Title
	}
	c.logger.Debug("recording resolved", zap.String("id", id), zap.String("title", title))
	return &model.MusicBrainzRecordingInfo{UUID: id, Title: title}, nil
}

// CoverURL Cover Art Archive 的封面地址
func (c *Client) CoverURL(releaseID string) string {
	return strings.TrimRight(c.cfg.CoverBaseURL, "/") + "/release/" + releaseID + "/front"
}

func (c *Client) get(ctx context.Context, path, inc string, out any) error {
	c.logger.Debug("requesting", zap.String("path", path), zap.String("inc", inc))

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fmt": "json",
			"inc": inc,
		}).
		Get(path)
	if err != nil {
		return errcode.Wrap(err, "musicbrainz request failed", errcode.InfoFetchFailed)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return errcode.New(fmt.Sprintf("musicbrainz %s not found", path), errcode.UpstreamNotFound)
	case resp.StatusCode() != http.StatusOK:
		return errcode.New(fmt.Sprintf("musicbrainz %s: unexpected status code: %d", path, resp.StatusCode()), errcode.InfoFetchFailed)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errcode.Wrap(err, "decode musicbrainz response", errcode.JSONResponseFailed)
	}
	return nil
}
