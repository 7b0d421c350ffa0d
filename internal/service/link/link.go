package link

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/google/uuid"
)

var (
	youtubeIDRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	nicoIDRe     = regexp.MustCompile(`^[a-z]{2}[0-9]+$`)
	digitsRe     = regexp.MustCompile(`^[0-9]+$`)
	youtubeHosts = map[string]bool{"youtube.com": true, "music.youtube.com": true}
	twitterHosts = map[string]bool{"x.com": true, "twitter.com": true, "mobile.twitter.com": true, "mobile.x.com": true}
)

// Parse 从分享链接中识别资源
//
// 无法识别的链接返回 2-3，能识别站点但拿不到 ID 时返回 2-4。
func Parse(raw string) (model.ResourceKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.ResourceKey{}, errcode.New("empty url", errcode.ParseFoundNothing)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return model.ResourceKey{}, errcode.Wrap(err, "invalid url", errcode.ParseFoundNothing)
	}
	if u.Host == "" {
		return model.ResourceKey{}, errcode.New("url has no host", errcode.ParseFoundNothing)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	segs := splitPath(u.Path)

	var key model.ResourceKey
	switch {
	case youtubeHosts[host]:
		key = parseYouTube(u, segs)
	case host == "youtu.be":
		if len(segs) > 0 {
			key = model.ResourceKey{Kind: model.KindYouTube, ID: segs[0]}
		}
	case host == "nicovideo.jp" || host == "sp.nicovideo.jp":
		if len(segs) >= 2 && segs[0] == "watch" {
			key = model.ResourceKey{Kind: model.KindNicoNico, ID: segs[1]}
		}
	case host == "nico.ms":
		if len(segs) > 0 {
			key = model.ResourceKey{Kind: model.KindNicoNico, ID: segs[0]}
		}
	case twitterHosts[host]:
		key = parseTwitter(segs)
	case host == "api.soundcloud.com" || host == "api-v2.soundcloud.com":
		key = parseSoundCloud(segs)
	case host == "musicbrainz.org" || host == "beta.musicbrainz.org":
		key = parseMusicBrainz(segs)
	default:
		return model.ResourceKey{}, errcode.Newf([]string{errcode.ParseFoundNothing}, "unsupported host %q", host)
	}

	if !valid(key) {
		return model.ResourceKey{}, errcode.Newf([]string{errcode.URLParseFailed}, "no id in %q", raw)
	}
	return key, nil
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseYouTube(u *url.URL, segs []string) model.ResourceKey {
	if len(segs) == 0 {
		return model.ResourceKey{}
	}
	switch segs[0] {
	case "watch":
		return model.ResourceKey{Kind: model.KindYouTube, ID: u.Query().Get("v")}
	case "shorts", "live", "embed":
		if len(segs) >= 2 {
			return model.ResourceKey{Kind: model.KindYouTube, ID: segs[1]}
		}
	case "channel":
		if len(segs) >= 2 {
			return model.ResourceKey{Kind: model.KindYouTubeUserIcon, ID: segs[1]}
		}
	}
	return model.ResourceKey{}
}

// parseTwitter /{user}/status/{id}[/video|photo/{n}]
func parseTwitter(segs []string) model.ResourceKey {
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] != "status" && segs[i] != "statuses" {
			continue
		}
		key := model.ResourceKey{Kind: model.KindTwitter, ID: segs[i+1]}
		if i+3 < len(segs) && (segs[i+2] == "video" || segs[i+2] == "photo") {
			if n, err := strconv.Atoi(segs[i+3]); err == nil && n > 0 {
				key.ItemNumber = n
			}
		}
		return key
	}
	return model.ResourceKey{}
}

func parseSoundCloud(segs []string) model.ResourceKey {
	if len(segs) < 2 {
		return model.ResourceKey{}
	}
	switch segs[0] {
	case "tracks":
		return model.ResourceKey{Kind: model.KindSoundCloud, ID: segs[1]}
	case "users":
		return model.ResourceKey{Kind: model.KindSoundCloudUserIcon, ID: segs[1]}
	}
	return model.ResourceKey{}
}

func parseMusicBrainz(segs []string) model.ResourceKey {
	if len(segs) < 2 {
		return model.ResourceKey{}
	}
	switch segs[0] {
	case "release":
		return model.ResourceKey{Kind: model.KindMusicBrainzRelease, ID: segs[1]}
	case "recording":
		return model.ResourceKey{Kind: model.KindMusicBrainzRecording, ID: segs[1]}
	}
	return model.ResourceKey{}
}

// valid 按类型校验 ID 格式
func valid(key model.ResourceKey) bool {
	switch key.Kind {
	case model.KindYouTube:
		return youtubeIDRe.MatchString(key.ID)
	case model.KindNicoNico:
		return nicoIDRe.MatchString(key.ID)
	case model.KindTwitter, model.KindSoundCloud, model.KindSoundCloudUserIcon:
		return digitsRe.MatchString(key.ID)
	case model.KindMusicBrainzRelease, model.KindMusicBrainzRecording:
		_, err := uuid.Parse(key.ID)
		return err == nil
	case model.KindYouTubeUserIcon:
		return strings.HasPrefix(key.ID, "UC") && len(key.ID) > 2
	}
	return false
}

// DecodeParam 解码路径中 base64url 编码的链接，有无填充都接受
func DecodeParam(s string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", errcode.Wrap(err, "decode url parameter", errcode.URLParseFailed)
	}
	return string(data), nil
}

// EncodeParam DecodeParam 的逆操作
func EncodeParam(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}
