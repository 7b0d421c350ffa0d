package ytdlp

// VideoInfo yt-dlp -J / -j 输出中用到的字段
type VideoInfo struct {
	ID          string      `json:"id"`
	DisplayID   string      `json:"display_id"`
	Title       string      `json:"title"`
	Description *string     `json:"description"`
	Channel     string      `json:"channel"`
	ChannelID   string      `json:"channel_id"`
	Uploader    string      `json:"uploader"`
	UploaderID  string      `json:"uploader_id"`
	Thumbnail   string      `json:"thumbnail"`
	Thumbnails  []Thumbnail `json:"thumbnails"`
	Duration    *float64    `json:"duration"`
	Extractor   string      `json:"extractor"`
	Formats     []Format    `json:"formats"`
	Entries     []VideoInfo `json:"entries"`
}

// DescriptionText 描述，缺失时为空串
func (v *VideoInfo) DescriptionText() string {
	if v.Description == nil {
		return ""
	}
	return *v.Description
}

// Format 可选格式
type Format struct {
	FormatID   string   `json:"format_id"`
	FormatNote string   `json:"format_note"`
	Ext        string   `json:"ext"`
	Container  string   `json:"container"`
	Resolution string   `json:"resolution"`
	ACodec     string   `json:"acodec"`
	VCodec     string   `json:"vcodec"`
	AudioExt   string   `json:"audio_ext"`
	VideoExt   string   `json:"video_ext"`
	ABR        *float64 `json:"abr"`
	TBR        *float64 `json:"tbr"`
	HasDRM     bool     `json:"has_drm"`
}

// Thumbnail 缩略图
type Thumbnail struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Width      *int     `json:"width"`
	Height     *int     `json:"height"`
	Resolution string   `json:"resolution"`
	Preference *float64 `json:"preference"`
}

// Progress --progress-template %(progress)j 输出的一行
type Progress struct {
	Status             string   `json:"status"`
	DownloadedBytes    *float64 `json:"downloaded_bytes"`
	TotalBytes         *float64 `json:"total_bytes"`
	TotalBytesEstimate *float64 `json:"total_bytes_estimate"`
	Percent            *float64 `json:"_percent"`
	Filename           string   `json:"filename"`
	TmpFilename        string   `json:"tmpfilename"`
	ETA                *float64 `json:"eta"`
	Speed              *float64 `json:"speed"`
	Elapsed            *float64 `json:"elapsed"`
}
