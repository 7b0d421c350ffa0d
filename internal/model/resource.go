package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind 资源类型
type Kind string

const (
	KindYouTube              Kind = "youtube"
	KindNicoNico             Kind = "niconico"
	KindTwitter              Kind = "twitter"
	KindSoundCloud           Kind = "soundcloud"
	KindMusicBrainzRelease   Kind = "musicbrainz-release"
	KindMusicBrainzRecording Kind = "musicbrainz-recording"
	KindYouTubeUserIcon      Kind = "youtube-usericon"
	KindSoundCloudUserIcon   Kind = "soundcloud-usericon"
)

// Kinds 所有已知类型，顺序即文档中的表顺序
var Kinds = []Kind{
	KindYouTube,
	KindNicoNico,
	KindTwitter,
	KindSoundCloud,
	KindMusicBrainzRelease,
	KindMusicBrainzRecording,
	KindYouTubeUserIcon,
	KindSoundCloudUserIcon,
}

// ParseKind 解析类型名
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// HasSource 是否需要下载音频文件
func (k Kind) HasSource() bool {
	switch k {
	case KindYouTube, KindNicoNico, KindTwitter, KindSoundCloud:
		return true
	}
	return false
}

// MultiItem 一个外部 ID 下是否可能有多个媒体
func (k Kind) MultiItem() bool {
	return k == KindTwitter
}

// ResourceKey 资源标识，ItemNumber 从 1 开始，0 表示未指定
type ResourceKey struct {
	Kind       Kind   `json:"kind"`
	ID         string `json:"id"`
	ItemNumber int    `json:"itemNumber,omitempty"`
}

// String 形如 youtube:abc 或 twitter:123#2
func (k ResourceKey) String() string {
	if k.ItemNumber > 0 {
		return fmt.Sprintf("%s:%s#%d", k.Kind, k.ID, k.ItemNumber)
	}
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// Resource 去掉 ItemNumber，得到整条资源的 key
func (k ResourceKey) Resource() ResourceKey {
	return ResourceKey{Kind: k.Kind, ID: k.ID}
}

// Item 指定第 n 个媒体
func (k ResourceKey) Item(n int) ResourceKey {
	return ResourceKey{Kind: k.Kind, ID: k.ID, ItemNumber: n}
}

// FileStem 磁盘文件名（不含扩展名）
func (k ResourceKey) FileStem() string {
	if k.ItemNumber > 0 {
		return k.ID + "-" + strconv.Itoa(k.ItemNumber)
	}
	return k.ID
}

// ParseCompositeID 解析 twitter 的 {postId}-{itemNumber}，没有后缀时 itemNumber 为 0
func ParseCompositeID(raw string) (id string, item int, err error) {
	i := strings.LastIndex(raw, "-")
	if i < 0 {
		return raw, 0, nil
	}
	n, convErr := strconv.Atoi(raw[i+1:])
	if convErr != nil || n < 1 || i == 0 {
		return "", 0, fmt.Errorf("invalid composite id %q", raw)
	}
	return raw[:i], n, nil
}
