package ytdlp

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PickBestAudioFormat 选出音质最好的可用格式，DRM 格式不参与
func PickBestAudioFormat(formats []Format) (Format, bool) {
	var candidates []Format
	for _, f := range formats {
		if hasUsableAudio(f) && !f.HasDRM {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return Format{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if sa, sb := scoreFormat(a), scoreFormat(b); sa != sb {
			return sa > sb
		}
		if num(a.ABR) != num(b.ABR) {
			return num(a.ABR) > num(b.ABR)
		}
		ca, cb := codecRank(strings.ToLower(a.ACodec)), codecRank(strings.ToLower(b.ACodec))
		if ca != cb {
			return ca > cb
		}
		if isAudioOnly(a) != isAudioOnly(b) {
			return isAudioOnly(a)
		}
		return num(a.TBR) > num(b.TBR)
	})
	return candidates[0], true
}

func hasUsableAudio(f Format) bool {
	ac := strings.ToLower(f.ACodec)
	if ac != "" && ac != "none" {
		return true
	}
	if strings.Contains(strings.ToLower(f.Resolution), "audio only") {
		return true
	}
	aext := strings.ToLower(f.AudioExt)
	return aext != "" && aext != "none"
}

func isAudioOnly(f Format) bool {
	return strings.Contains(strings.ToLower(f.Resolution), "audio only") ||
		strings.EqualFold(f.VideoExt, "none") ||
		strings.EqualFold(f.VCodec, "none")
}

func scoreFormat(f Format) float64 {
	score := num(f.ABR)*10 + num(f.TBR)*5
	ac := strings.ToLower(f.ACodec)
	score += float64(codecRank(ac)) * 100

	if isAudioOnly(f) {
		score += 50
	}

	note := strings.ToLower(f.FormatNote)
	if strings.Contains(note, "high") {
		score += 30
	} else if strings.Contains(note, "medium") {
		score += 15
	}
	if strings.Contains(note, "main audio") {
		score += 20
	}

	ext := strings.ToLower(f.Ext)
	container := strings.ToLower(f.Container)
	if ac == "opus" && (ext == "webm" || strings.Contains(container, "webm")) {
		score += 10
	}
	if ac == "aac" && (ext == "m4a" || strings.Contains(container, "mp4")) {
		score += 5
	}
	return score
}

func codecRank(ac string) int {
	switch {
	case ac == "":
		return 0
	case strings.Contains(ac, "flac"), strings.Contains(ac, "alac"):
		return 6
	case strings.Contains(ac, "pcm"), strings.Contains(ac, "wav"):
		return 5
	case strings.Contains(ac, "opus"):
		return 4
	case strings.Contains(ac, "aac"), strings.Contains(ac, "mp4a"):
		return 3
	case strings.Contains(ac, "mp3"):
		return 2
	case strings.Contains(ac, "vorbis"):
		return 1
	}
	return 0
}

func num(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

var resolutionRe = regexp.MustCompile(`(?i)(\d+)x(\d+)`)

// PickBestThumbnail 依次按 preference、面积、宽、高、id 选出最清晰的缩略图
func PickBestThumbnail(thumbs []Thumbnail) (Thumbnail, bool) {
	if len(thumbs) == 0 {
		return Thumbnail{}, false
	}

	type scored struct {
		t          Thumbnail
		pref       float64
		w, h, area int
		idRank     int
	}
	list := make([]scored, 0, len(thumbs))
	for _, t := range thumbs {
		w, h := thumbSize(t)
		list = append(list, scored{
			t:      t,
			pref:   num(t.Preference),
			w:      w,
			h:      h,
			area:   w * h,
			idRank: thumbIDRank(strings.ToLower(t.ID)),
		})
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.pref != b.pref:
			return a.pref > b.pref
		case a.area != b.area:
			return a.area > b.area
		case a.w != b.w:
			return a.w > b.w
		case a.h != b.h:
			return a.h > b.h
		default:
			return a.idRank > b.idRank
		}
	})
	return list[0].t, true
}

func thumbSize(t Thumbnail) (int, int) {
	var w, h int
	if t.Width != nil {
		w = *t.Width
	}
	if t.Height != nil {
		h = *t.Height
	}
	if (t.Width == nil || t.Height == nil) && t.Resolution != "" {
		if m := resolutionRe.FindStringSubmatch(t.Resolution); m != nil {
			if w == 0 {
				w, _ = strconv.Atoi(m[1])
			}
			if h == 0 {
				h, _ = strconv.Atoi(m[2])
			}
		}
	}
	return w, h
}

func thumbIDRank(id string) int {
	switch {
	case id == "":
		return 0
	case strings.Contains(id, "orig"):
		return 5
	case strings.Contains(id, "large"):
		return 4
	case strings.Contains(id, "medium"):
		return 3
	case strings.Contains(id, "small"):
		return 2
	case strings.Contains(id, "thumb"):
		return 1
	}
	return 0
}

// ParseProgressLine 解析一行进度 JSON，不是进度行时 ok 为 false
func ParseProgressLine(line string) (Progress, bool) {
	t := strings.TrimSpace(line)
	if t == "" || !strings.HasPrefix(t, "{") || !strings.HasSuffix(t, "}") || !strings.Contains(t, `"status"`) {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal([]byte(t), &p); err != nil || p.Status == "" {
		return Progress{}, false
	}
	return p, true
}

// PercentDone 完成百分比：_percent 优先，其次 downloaded/total，最后 downloaded/estimate
func (p Progress) PercentDone() (float64, bool) {
	if p.Percent != nil {
		return *p.Percent, true
	}
	if p.DownloadedBytes == nil {
		return 0, false
	}
	if p.TotalBytes != nil && *p.TotalBytes > 0 {
		return *p.DownloadedBytes / *p.TotalBytes * 100, true
	}
	if p.TotalBytesEstimate != nil && *p.TotalBytesEstimate > 0 {
		return *p.DownloadedBytes / *p.TotalBytesEstimate * 100, true
	}
	return 0, false
}
