package repository

import (
	"context"
	"time"

	"github.com/azin/mediacache-service/internal/model"
	"gorm.io/gorm"
)

// DownloadRepository 下载历史仓库
type DownloadRepository struct {
	db *gorm.DB
}

// NewDownloadRepository 创建下载历史仓库
func NewDownloadRepository(db *gorm.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// Record 写入一条下载结束事件
func (r *DownloadRepository) Record(ctx context.Context, rec *model.DownloadRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// DownloadFilter 历史查询条件，零值字段不参与过滤
type DownloadFilter struct {
	Kind   string
	Result string
	Limit  int
	Offset int
}

// List 按结束时间倒序查询历史
func (r *DownloadRepository) List(ctx context.Context, f DownloadFilter) ([]*model.DownloadRecord, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.DownloadRecord{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Result != "" {
		q = q.Where("result = ?", f.Result)
	}

	var recs []*model.DownloadRecord
	err := q.Order("finished_at DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&recs).Error
	return recs, err
}

// FindByResource 查询某个资源的历史
func (r *DownloadRepository) FindByResource(ctx context.Context, key model.ResourceKey) ([]*model.DownloadRecord, error) {
	var recs []*model.DownloadRecord
	err := r.db.WithContext(ctx).
		Where("kind = ? AND resource_id = ?", string(key.Kind), key.ID).
		Order("finished_at DESC").
		Find(&recs).Error
	return recs, err
}

// CountByResult 统计指定结果的数量
func (r *DownloadRepository) CountByResult(ctx context.Context, result string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DownloadRecord{}).Where("result = ?", result).Count(&count).Error
	return count, err
}

// DeleteOlderThan 删除超过指定天数的历史
func (r *DownloadRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).Where("finished_at < ?", cutoff).Delete(&model.DownloadRecord{})
	return res.RowsAffected, res.Error
}
