package errcode

import "strings"

// signature stderr 特征串到错误码的映射，按顺序匹配
type signature struct {
	needle string
	code   string
}

// 400 Retrying 必须排在 400 之前
var signatures = []signature{
	{": Video unavailable", YtDlpUnavailable},
	{"No supported JavaScript runtime could be found", YtDlpNoJSRuntime},
	{"Failed to download m3u8 information: HTTP Error 403: Forbidden", YtDlpM3U8Forbidden},
	{"Precondition check failed.", YtDlpPrecondition},
	{"HTTP Error 400: Bad Request. Retrying", YtDlpBadRequestRetry},
	{"HTTP Error 400: Bad Request", YtDlpBadRequest},
	{"No title found in player responses", YtDlpNoTitle},
	{"Sign in to confirm you’re not a bot", YtDlpBotDetected},
	{"Sign in to confirm you're not a bot", YtDlpBotDetected},
	{"unable to download video data: HTTP Error 403: Forbidden", YtDlpForbidden},
	{"No video could be found in this tweet", YtDlpNoMedia},
	{"Error: Status code 404", UpstreamNotFound},
}

// FromStderr 识别一行 stderr 输出，无法识别时 ok 为 false
func FromStderr(line string) (code string, ok bool) {
	for _, s := range signatures {
		if strings.Contains(line, s.needle) {
			return s.code, true
		}
	}
	return "", false
}

// ScanStderr 扫描整段 stderr，返回所有识别出的错误码
func ScanStderr(output string) []string {
	var codes []string
	for _, line := range strings.Split(output, "\n") {
		if code, ok := FromStderr(line); ok {
			codes = append(codes, code)
		}
	}
	return Merge(codes)
}

// Info 错误码说明
type Info struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var catalog = map[string]Info{
	NoSourceInfo:         {Title: "Failed to get info or audio", Description: "The audio or its info could not be obtained, or the selected item number does not exist."},
	FileMissing:          {Title: "Cached audio is missing", Description: "The audio file that should exist on disk was not found."},
	JSONResponseFailed:   {Title: "Failed to build JSON response", Description: "JSON was requested but a valid document could not be produced."},
	NotImplemented:       {Title: "Not implemented", Description: "This request is not implemented yet."},
	ParseFoundNothing:    {Title: "Nothing recognised", Description: "The input was parsed but no source was found."},
	URLParseFailed:       {Title: "URL parse failed", Description: "The URL was parsed but no ID could be extracted, or the URL is not supported."},
	UnsupportedSource:    {Title: "Unsupported source", Description: "This source cannot be fetched."},
	InfoFetchFailed:      {Title: "Info fetch failed", Description: "An error occurred while fetching the info."},
	SourceFetchFailed:    {Title: "Audio fetch failed", Description: "An error occurred while fetching the audio."},
	MultiSourceFailed:    {Title: "Audio fetch failed", Description: "One or more items of a multi-item resource failed to download."},
	ConversionFailed:     {Title: "Error code conversion failed", Description: "An internal error occurred while converting an error to a code."},
	UpstreamNotFound:     {Title: "Upstream returned 404", Description: "The upstream service reported that the resource does not exist."},
	FFmpegNoOutput:       {Title: "Unsupported audio", Description: "The media could not be converted; it may contain no audio."},
	YtDlpUnavailable:     {Title: "Unavailable content", Description: "This video is unavailable."},
	YtDlpNoJSRuntime:     {Title: "yt-dlp warning", Description: "yt-dlp could not find a JavaScript runtime. This can be ignored."},
	YtDlpExited:          {Title: "yt-dlp exited", Description: "yt-dlp exited without returning a result."},
	YtDlpFileNotFound:    {Title: "Downloaded file not found", Description: "yt-dlp reported success but the downloaded file was not found."},
	YtDlpM3U8Forbidden:   {Title: "Playlist forbidden", Description: "Fetching the m3u8 playlist returned 403."},
	YtDlpPrecondition:    {Title: "Precondition check failed", Description: "The upstream rejected the request precondition."},
	YtDlpBadRequestRetry: {Title: "Bad request (retried)", Description: "The upstream returned 400 and yt-dlp retried."},
	YtDlpBadRequest:      {Title: "Bad request", Description: "The upstream returned 400."},
	YtDlpNoTitle:         {Title: "Incomplete metadata", Description: "No title in player responses; metadata may be missing."},
	YtDlpBotDetected:     {Title: "Blocked by bot detection", Description: "yt-dlp was blocked by bot detection. Retrying later may help."},
	YtDlpForbidden:       {Title: "Download forbidden", Description: "Downloading the media data returned 403."},
	YtDlpNoMedia:         {Title: "No audio in post", Description: "This post contains no audio."},
}

// Describe 返回错误码说明
func Describe(code string) Info {
	if info, ok := catalog[code]; ok {
		info.Code = code
		return info
	}
	shown := code
	if len(shown) >= 10 {
		shown = shown[:10] + "..."
	}
	return Info{
		Code:        code,
		Title:       "Unknown error",
		Description: "Unrecognised error code \"" + shown + "\". Check the logs.",
	}
}

var (
	mainCodes = map[string]struct{}{
		FileMissing: {}, NotImplemented: {}, YtDlpUnavailable: {}, YtDlpBotDetected: {},
		YtDlpBadRequest: {}, FFmpegNoOutput: {}, YtDlpForbidden: {},
	}
	subCodes = map[string]struct{}{
		YtDlpFileNotFound: {}, SourceFetchFailed: {}, MultiSourceFailed: {}, NoSourceInfo: {},
		JSONResponseFailed: {}, UnsupportedSource: {}, InfoFetchFailed: {}, YtDlpM3U8Forbidden: {},
		YtDlpPrecondition: {}, YtDlpBadRequestRetry: {}, YtDlpNoTitle: {}, UpstreamNotFound: {},
	}
)

// Priority 按用户影响分组后的错误码
type Priority struct {
	Main  []string `json:"main"`
	Sub   []string `json:"sub"`
	Other []string `json:"other"`
}

// Prioritize 把错误码分为 main（直接影响用户）、sub（辅助定位）、other
func Prioritize(codes []string) Priority {
	var p Priority
	for _, c := range codes {
		if _, ok := mainCodes[c]; ok {
			p.Main = append(p.Main, c)
		} else if _, ok := subCodes[c]; ok {
			p.Sub = append(p.Sub, c)
		} else {
			p.Other = append(p.Other, c)
		}
	}
	return p
}
