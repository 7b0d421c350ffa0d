package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
)

var infoArgs = []string{"-j", "-q", "--no-warnings"}

// 频道/用户页只需要自身元数据，不展开视频列表
var profileArgs = []string{"-J", "-q", "--no-warnings", "--flat-playlist", "--playlist-items", "0"}

// URL 资源在上游站点的地址
func URL(kind model.Kind, id string) (string, error) {
	switch kind {
	case model.KindYouTube:
		return "https://youtube.com/watch?v=" + id, nil
	case model.KindNicoNico:
		return "https://www.nicovideo.jp/watch/" + id, nil
	case model.KindSoundCloud:
		return "https://api-v2.soundcloud.com/tracks/" + id, nil
	case model.KindTwitter:
		return "https://x.com/i/web/status/" + id, nil
	case model.KindYouTubeUserIcon:
		return "https://www.youtube.com/channel/" + id, nil
	case model.KindSoundCloudUserIcon:
		return "https://api.soundcloud.com/users/" + id, nil
	}
	return "", errcode.Newf([]string{errcode.UnsupportedSource}, "yt-dlp has no url for %q", kind)
}

// Info 取元数据；返回值 items 只对 twitter 有意义
func (r *Runner) Info(ctx context.Context, kind model.Kind, id string) (json.RawMessage, int, error) {
	url, err := URL(kind, id)
	if err != nil {
		return nil, 0, err
	}

	args := infoArgs
	if kind == model.KindYouTubeUserIcon || kind == model.KindSoundCloudUserIcon {
		args = profileArgs
	}
	out, err := r.Output(ctx, kind, args, url)
	if err != nil {
		return nil, 0, err
	}
	videos, err := decodeLines(out)
	if err != nil {
		return nil, 0, err
	}
	if len(videos) == 0 {
		return nil, 0, errcode.New("yt-dlp printed no metadata for "+url, errcode.YtDlpNoMedia)
	}
	return MapInfo(kind, id, videos)
}

// MapInfo 把 yt-dlp 元数据转换为各类型的存储结构
func MapInfo(kind model.Kind, id string, videos []VideoInfo) (json.RawMessage, int, error) {
	v := videos[0]
	var (
		data  any
		items int
	)
	switch kind {
	case model.KindYouTube:
		if v.Title == "" {
			return nil, 0, errcode.New("youtube video has no title", errcode.YtDlpNoTitle)
		}
		videoID := v.DisplayID
		if videoID == "" {
			videoID = id
		}
		data = model.YouTubeInfo{
			VideoID:      videoID,
			Title:        v.Title,
			Description:  v.DescriptionText(),
			ChannelName:  firstNonEmpty(v.Channel, v.Uploader),
			ChannelID:    v.ChannelID,
			UserID:       v.UploaderID,
			ThumbnailURL: bestThumbnailURL(v),
		}
	case model.KindNicoNico:
		if v.Title == "" {
			return nil, 0, errcode.New("niconico video has no title", errcode.YtDlpNoTitle)
		}
		data = model.NicoNicoInfo{
			ID:           id,
			Title:        v.Title,
			Description:  v.DescriptionText(),
			ChannelName:  firstNonEmpty(v.Channel, v.Uploader),
			ChannelID:    firstNonEmpty(v.ChannelID, v.UploaderID),
			ThumbnailURL: bestThumbnailURL(v),
		}
	case model.KindSoundCloud:
		data = model.SoundCloudInfo{
			ID:           id,
			Title:        v.Title,
			Description:  v.Description,
			UserName:     v.Uploader,
			UserID:       v.UploaderID,
			ThumbnailURL: bestThumbnailURL(v),
		}
	case model.KindTwitter:
		info := model.TwitterInfo{ID: id}
		for _, item := range videos {
			info.Items = append(info.Items, model.TwitterItem{
				ID:           id,
				Full:         item.Title,
				Body:         item.DescriptionText(),
				UserName:     item.Uploader,
				UserID:       item.UploaderID,
				ThumbnailURL: item.Thumbnail,
			})
		}
		data = info
		items = len(info.Items)
	case model.KindYouTubeUserIcon, model.KindSoundCloudUserIcon:
		thumb := bestThumbnailURL(v)
		if thumb == "" {
			return nil, 0, errcode.New("no icon for user "+id, errcode.ParseFoundNothing)
		}
		data = model.UserIconInfo{
			UserID:       id,
			Name:         firstNonEmpty(v.Channel, v.Uploader, v.Title),
			ThumbnailURL: thumb,
		}
	default:
		return nil, 0, errcode.Newf([]string{errcode.UnsupportedSource}, "yt-dlp cannot describe %q", kind)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, 0, errcode.Wrap(err, "encode info", errcode.JSONResponseFailed)
	}
	return raw, items, nil
}

// decodeLines 每行一个 JSON 对象（-j 对多条目资源会输出多行）
func decodeLines(out []byte) ([]VideoInfo, error) {
	var videos []VideoInfo
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var v VideoInfo
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, errcode.Wrap(err, fmt.Sprintf("decode yt-dlp output (%d bytes)", len(line)), errcode.JSONResponseFailed)
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func bestThumbnailURL(v VideoInfo) string {
	if t, ok := PickBestThumbnail(v.Thumbnails); ok && t.URL != "" {
		return t.URL
	}
	return v.Thumbnail
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
