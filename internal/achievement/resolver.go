package achievement

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"gorm.io/gorm"
)

// Resolver 把行程分类解析为徽章名；没有匹配时返回空切片，而不是错误。
type Resolver interface {
	Resolve(ctx context.Context, category string) ([]string, error)
}

// ConfiguredResolver 读取管理员配置的分类表，分类名大小写不敏感。
type ConfiguredResolver struct {
	db *gorm.DB
}

func NewConfiguredResolver(db *gorm.DB) *ConfiguredResolver {
	return &ConfiguredResolver{db: db}
}

func (r *ConfiguredResolver) Resolve(ctx context.Context, category string) ([]string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, nil
	}
	var c models.Category
	err := r.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(category)).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(c.Badges) == 0 {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(c.Badges, &names); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		// 配置里的未知徽章直接忽略
		if rule, ok := Lookup(n); ok && rule.Badge != Leader {
			out = append(out, rule.Badge)
		}
	}
	return out, nil
}

// KeywordResolver 在分类原文里做子串匹配，一个分类可以命中多个徽章。
type KeywordResolver struct{}

func (KeywordResolver) Resolve(_ context.Context, category string) ([]string, error) {
	text := strings.ToLower(category)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var out []string
	for _, rule := range Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				out = append(out, rule.Badge)
				break
			}
		}
	}
	return out, nil
}

// Chain 依次尝试各个 Resolver，取第一个非空结果并去重。
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, category string) ([]string, error) {
	for _, r := range c {
		badges, err := r.Resolve(ctx, category)
		if err != nil {
			return nil, err
		}
		if len(badges) > 0 {
			return dedupe(badges), nil
		}
	}
	return nil, nil
}

// NewResolver 返回默认的两级解析：先查配置，keywordFallback 为 true 时再回退到关键字。
func NewResolver(db *gorm.DB, keywordFallback bool) Resolver {
	chain := Chain{NewConfiguredResolver(db)}
	if keywordFallback {
		chain = append(chain, KeywordResolver{})
	}
	return chain
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
