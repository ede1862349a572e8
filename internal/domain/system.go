package domain

import (
	"time"
)

type SysOprLog struct {
	ID        int64     `json:"id,string"`
	OprName   string    `json:"opr_name"`
	OprIp     string    `json:"opr_ip"`
	OptAction string    `json:"opt_action"`
	OptDesc   string    `json:"opt_desc"`
	OptTime   time.Time `json:"opt_time" gorm:"index"`
}

// TableName Specify table name
func (SysOprLog) TableName() string {
	return "sys_opr_log"
}

// SysScheduler background task persisted so admins can tune and trigger it
type SysScheduler struct {
	ID          int64     `json:"id,string" form:"id"`
	Name        string    `json:"name" form:"name"`
	TaskType    string    `json:"task_type" form:"task_type" gorm:"uniqueIndex"` // apply_downgrades, expire_subscriptions, ...
	Interval    int       `json:"interval" form:"interval"`                      // seconds
	Status      string    `json:"status" form:"status"`                          // enabled/disabled
	LastRunAt   time.Time `json:"last_run_at"`
	NextRunAt   time.Time `json:"next_run_at"`
	LastResult  string    `json:"last_result" form:"last_result"` // success/failed
	LastMessage string    `json:"last_message" form:"last_message"`
	Config      string    `json:"config" form:"config"` // JSON, task specific
	Remark      string    `json:"remark" form:"remark"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName Specify table name
func (SysScheduler) TableName() string {
	return "sys_scheduler"
}
