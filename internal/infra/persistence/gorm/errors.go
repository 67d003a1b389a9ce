package gormpersistence

import (
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// isDuplicateEntryError 检查唯一约束冲突。MySQL 使用错误码判断，
// SQLite (测试环境) 退回到错误信息匹配。
func isDuplicateEntryError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// elapsedSeconds 计算从 joinedAt 到 at 的整秒数，joinedAt 为空或时间倒退时返回 0。
func elapsedSeconds(joinedAt *time.Time, at time.Time) int64 {
	if joinedAt == nil || at.Before(*joinedAt) {
		return 0
	}
	return int64(at.Sub(*joinedAt) / time.Second)
}
