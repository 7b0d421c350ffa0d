package ytdlp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
)

func TestInfoYouTube(t *testing.T) {
	s := &scriptedExec{script: []scriptStep{{stdout: []string{
		`{"id":"abc","display_id":"abc","title":"Song","description":"desc","channel":"Chan","channel_id":"UC1","uploader_id":"@chan",` +
			`"thumbnail":"fallback.jpg","thumbnails":[{"url":"small.jpg","width":120,"height":90},{"url":"big.jpg","width":1280,"height":720}]}`,
	}}}}
	r := newTestRunner(s)

	raw, items, err := r.Info(context.Background(), model.KindYouTube, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if items != 0 {
		t.Fatalf("items = %d", items)
	}
	var info model.YouTubeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatal(err)
	}
	want := model.YouTubeInfo{
		VideoID:      "abc",
		Title:        "Song",
		Description:  "desc",
		ChannelName:  "Chan",
		ChannelID:    "UC1",
		UserID:       "@chan",
		ThumbnailURL: "big.jpg",
	}
	if info != want {
		t.Fatalf("info = %+v, want %+v", info, want)
	}
	if !hasArgs(s.calls[0], "-j", "-q", "--no-warnings") {
		t.Fatalf("args = %v", s.calls[0])
	}
}

func TestInfoTwitterItems(t *testing.T) {
	s := &scriptedExec{script: []scriptStep{{stdout: []string{
		`{"id":"1700","title":"user - post","description":"first","uploader":"User","uploader_id":"user","thumbnail":"a.jpg"}`,
		``,
		`{"id":"1700","title":"user - post","description":"second","uploader":"User","uploader_id":"user","thumbnail":"b.jpg"}`,
	}}}}
	r := newTestRunner(s)

	raw, items, err := r.Info(context.Background(), model.KindTwitter, "1700")
	if err != nil {
		t.Fatal(err)
	}
	if items != 2 {
		t.Fatalf("items = %d, want 2", items)
	}
	var info model.TwitterInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatal(err)
	}
	if info.Items[1].Body != "second" || info.Items[1].ThumbnailURL != "b.jpg" || info.Items[0].UserID != "user" {
		t.Fatalf("info = %+v", info)
	}
}

func TestInfoSoundCloudKeepsNullDescription(t *testing.T) {
	raw, _, err := MapInfo(model.KindSoundCloud, "42", []VideoInfo{{Title: "Track", Uploader: "Artist", UploaderID: "99"}})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if v, ok := m["description"]; !ok || v != nil {
		t.Fatalf("description = %v (present %v), want explicit null", v, ok)
	}
}

func TestInfoUserIcon(t *testing.T) {
	raw, _, err := MapInfo(model.KindYouTubeUserIcon, "UC1", []VideoInfo{{
		Channel:    "Chan",
		Thumbnails: []Thumbnail{{ID: "avatar_uncropped", URL: "icon.jpg", Width: iptr(900), Height: iptr(900)}, {URL: "banner.jpg", Width: iptr(100), Height: iptr(10)}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	var info model.UserIconInfo
	_ = json.Unmarshal(raw, &info)
	if info.ThumbnailURL != "icon.jpg" || info.Name != "Chan" || info.UserID != "UC1" {
		t.Fatalf("info = %+v", info)
	}

	_, _, err = MapInfo(model.KindSoundCloudUserIcon, "5", []VideoInfo{{Uploader: "x"}})
	if !errcode.Has(err, errcode.ParseFoundNothing) {
		t.Fatalf("missing icon should report %s, got %v", errcode.ParseFoundNothing, err)
	}
}

func TestInfoErrors(t *testing.T) {
	if _, _, err := MapInfo(model.KindYouTube, "x", []VideoInfo{{}}); !errcode.Has(err, errcode.YtDlpNoTitle) {
		t.Fatalf("err = %v", err)
	}
	if _, err := URL(model.KindMusicBrainzRelease, "x"); !errcode.Has(err, errcode.UnsupportedSource) {
		t.Fatalf("err = %v", err)
	}

	s := &scriptedExec{script: []scriptStep{{stdout: []string{"not json"}}}}
	if _, _, err := newTestRunner(s).Info(context.Background(), model.KindNicoNico, "sm1"); !errcode.Has(err, errcode.JSONResponseFailed) {
		t.Fatalf("err = %v", err)
	}
}
