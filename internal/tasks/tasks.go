package tasks

import (
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeAdmissionSweep  = "admission:sweep"          // 加入申请过期与提醒
	TypeInactivitySweep = "session:inactivity_sweep" // 空闲会话自动结束与过期凭证清理
)

// QueueMaintenance 是周期性维护任务使用的队列
const QueueMaintenance = "maintenance"

// PeriodicTask 描述一个需要注册到 Scheduler 的周期任务
type PeriodicTask struct {
	Cronspec string
	Task     *asynq.Task
	Opts     []asynq.Option
}

// NewSweepTask 创建一个周期清理任务。
// Unique 只在上一个同类任务仍排队或执行时去重，成功后锁即释放，多实例下同一周期仍可能执行多次。
// 清理因此必须幂等：过期由原子删除裁决，提醒由存储中的原子占用裁决。
func NewSweepTask(typeName string, interval time.Duration) PeriodicTask {
	return PeriodicTask{
		Cronspec: "@every " + interval.String(),
		Task:     asynq.NewTask(typeName, nil),
		Opts: []asynq.Option{
			asynq.Queue(QueueMaintenance),
			asynq.Unique(interval),
			asynq.MaxRetry(0),
			asynq.Timeout(interval),
		},
	}
}

// Periodic 返回两个清理任务的调度配置
func Periodic(admissionInterval, inactivityInterval time.Duration) []PeriodicTask {
	return []PeriodicTask{
		NewSweepTask(TypeAdmissionSweep, admissionInterval),
		NewSweepTask(TypeInactivitySweep, inactivityInterval),
	}
}
