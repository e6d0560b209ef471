package core

import (
	"strings"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
)

// FilterComments 保留内容包含任一关键词的评论(区分大小写)
// 关键词为空时原样返回
func FilterComments(comments []models.Comment, keywords []string) []models.Comment {
	if len(keywords) == 0 {
		return comments
	}

	out := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		for _, kw := range keywords {
			if strings.Contains(c.Content, kw) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// LimitComments 截断到最多limit条,limit<=0 不截断
func LimitComments(comments []models.Comment, limit int) []models.Comment {
	if limit <= 0 || len(comments) <= limit {
		return comments
	}
	return comments[:limit]
}

// ApplyCommentPolicy 先过滤再截断
func ApplyCommentPolicy(comments []models.Comment, job *models.CrawlJob) []models.Comment {
	return LimitComments(FilterComments(comments, job.CommentKeywords), job.MaxCommentsPerItem)
}
