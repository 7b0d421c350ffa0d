package model

import (
	"time"

	"gorm.io/gorm"
)

// Status 下载任务状态
type Status string

// 状态只会向前推进，失败的任务直接从队列移除，不单独设 failed 状态
const (
	StatusLoading        Status = "loading"
	StatusQueue          Status = "queue"
	StatusFormatChoosing Status = "formatchoosing"
	StatusDownloading    Status = "downloading"
	StatusConverting     Status = "converting"
	StatusDone           Status = "done"
)

var statusRank = map[Status]int{
	StatusLoading:        0,
	StatusQueue:          1,
	StatusFormatChoosing: 2,
	StatusDownloading:    3,
	StatusConverting:     4,
	StatusDone:           5,
}

// Rank 状态序号，未知状态为 -1
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Active 是否占用下载槽位
func (s Status) Active() bool {
	switch s {
	case StatusFormatChoosing, StatusDownloading, StatusConverting:
		return true
	}
	return false
}

// 各状态进入时的百分比
var statusPercent = map[Status]int{
	StatusLoading:        0,
	StatusQueue:          5,
	StatusFormatChoosing: 30,
	StatusDownloading:    40,
	StatusConverting:     70,
	StatusDone:           100,
}

// BasePercent 进入该状态时的进度
func (s Status) BasePercent() int {
	return statusPercent[s]
}

// DownloadRecord 下载历史
type DownloadRecord struct {
	ID         string `gorm:"primaryKey;size:64" json:"id"`
	Kind       string `gorm:"size:32;not null;index:idx_download_records_key" json:"kind"`
	ResourceID string `gorm:"size:255;not null;index:idx_download_records_key" json:"resource_id"`
	ItemNumber int    `json:"item_number"`

	// 结果
	Result   string   `gorm:"size:16;not null;index" json:"result"` // done / failed
	Filename string   `gorm:"size:512" json:"filename"`
	FileSize int64    `json:"file_size"`
	Duration *float64 `json:"duration"`
	Codes    string   `gorm:"size:255" json:"codes"` // 逗号分隔的错误码

	QueuedAt   time.Time      `json:"queued_at"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 表名
func (DownloadRecord) TableName() string {
	return "download_records"
}

// 历史结果
const (
	ResultDone   = "done"
	ResultFailed = "failed"
)

// Progress 任务进度快照
type Progress struct {
	Status  Status `json:"status"`
	Percent int    `json:"percent"`
}

// StatusFunc 状态回调
type StatusFunc func(Progress)
