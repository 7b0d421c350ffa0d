package downloader

import (
	"os"
	"path/filepath"

	"github.com/azin/mediacache-service/internal/model"
)

// AudioExts 缓存目录中认作音频文件的扩展名，顺序即查找顺序
var AudioExts = []string{"m4a", "ogg", "mp3", "opus", "webm", "flac"}

// Layout 缓存目录结构：{root}/{kind}/{id}.{ext} 或 {id}-{n}.{ext}
type Layout struct {
	Root string
}

// Dir 某类型的目录
func (l Layout) Dir(kind model.Kind) string {
	return filepath.Join(l.Root, string(kind))
}

// Path 某类型下的文件路径；filename 只取最后一段，不允许跳出目录
func (l Layout) Path(kind model.Kind, filename string) string {
	return filepath.Join(l.Dir(kind), filepath.Base(filename))
}

// WorkDir 下载中间文件的目录，完成后才移动到 Dir(kind)
func (l Layout) WorkDir() string {
	return filepath.Join(l.Root, ".work")
}

// Locate 按命名规则查找已存在的音频文件
func (l Layout) Locate(key model.ResourceKey) (string, os.FileInfo, bool) {
	stem := key.FileStem()
	for _, ext := range AudioExts {
		path := filepath.Join(l.Dir(key.Kind), stem+"."+ext)
		st, err := os.Stat(path)
		if err == nil && st.Mode().IsRegular() && st.Size() > 0 {
			return path, st, true
		}
	}
	return "", nil, false
}
