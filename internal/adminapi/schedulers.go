package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/app"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// schedulerUpdatePayload relaxes validation rules for partial updates
type schedulerUpdatePayload struct {
	Name     string `json:"name" validate:"omitempty,min=1,max=100"`
	Interval int    `json:"interval" validate:"omitempty,min=10"`
	Status   string `json:"status" validate:"omitempty,oneof=enabled disabled"`
	Config   string `json:"config" validate:"omitempty,max=2000"`
	Remark   string `json:"remark" validate:"omitempty,max=500"`
}

// registerSchedulerRoutes registers scheduler API routes
func registerSchedulerRoutes() {
	webserver.AdminGET("/system/schedulers", ListSchedulers)
	webserver.AdminGET("/system/schedulers/:id", GetScheduler)
	webserver.AdminPUT("/system/schedulers/:id", UpdateScheduler)
	webserver.AdminPOST("/system/schedulers/:id/run", TriggerScheduler)
}

func loadScheduler(c echo.Context) (*domain.SysScheduler, bool, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return nil, false, fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid scheduler ID", nil)
	}
	var scheduler domain.SysScheduler
	err = GetDB(c).First(&scheduler, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fail(c, http.StatusNotFound, "NOT_FOUND", "Scheduler not found", nil)
	}
	if err != nil {
		return nil, false, fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query scheduler", err.Error())
	}
	return &scheduler, true, nil
}

// TriggerScheduler runs the task now and returns its recorded outcome
// @Summary run a scheduler now
// @Tags Schedulers
// @Param id path int true "Scheduler ID"
// @Success 200 {object} Response
// @Router /api/v1/system/schedulers/{id}/run [post]
func TriggerScheduler(c echo.Context) error {
	scheduler, found, err := loadScheduler(c)
	if !found {
		return err
	}
	appCtx := GetAppContext(c)
	runErr := appCtx.RunSchedulerNow(scheduler.ID)
	if err := GetDB(c).First(scheduler, scheduler.ID).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to reload scheduler", err.Error())
	}
	if runErr != nil {
		return fail(c, http.StatusInternalServerError, "RUN_FAILED", "Scheduler task failed", runErr.Error())
	}
	return ok(c, scheduler)
}

// ListSchedulers retrieves the scheduler list
// @Summary get the scheduler list
// @Tags Schedulers
// @Param sort query string false "Sort field"
// @Param order query string false "Sort direction"
// @Param status query string false "Scheduler status"
// @Param task_type query string false "Task type"
// @Success 200 {object} ListResponse
// @Router /api/v1/system/schedulers [get]
func ListSchedulers(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c)

	allowed := map[string]string{
		"name":        "name",
		"task_type":   "task_type",
		"next_run_at": "next_run_at",
		"last_run_at": "last_run_at",
	}
	sortCol, found := allowed[c.QueryParam("sort")]
	if !found {
		sortCol = "name"
	}
	order := strings.ToUpper(c.QueryParam("order"))
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	query := db.Model(&domain.SysScheduler{})
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if taskType := strings.TrimSpace(c.QueryParam("task_type")); taskType != "" {
		query = query.Where("task_type = ?", taskType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query schedulers", err.Error())
	}
	var schedulers []domain.SysScheduler
	if err := query.Order(sortCol + " " + order).Offset((page - 1) * pageSize).Limit(pageSize).Find(&schedulers).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query schedulers", err.Error())
	}
	return paged(c, schedulers, total, page, pageSize)
}

// GetScheduler fetches a single scheduler
// @Summary get scheduler detail
// @Tags Schedulers
// @Param id path int true "Scheduler ID"
// @Success 200 {object} Response
// @Router /api/v1/system/schedulers/{id} [get]
func GetScheduler(c echo.Context) error {
	scheduler, found, err := loadScheduler(c)
	if !found {
		return err
	}
	return ok(c, scheduler)
}

// UpdateScheduler tunes interval, status or task options. The task type is fixed.
// @Summary update a scheduler
// @Tags Schedulers
// @Param id path int true "Scheduler ID"
// @Param scheduler body schedulerUpdatePayload true "Scheduler information"
// @Success 200 {object} Response
// @Router /api/v1/system/schedulers/{id} [put]
func UpdateScheduler(c echo.Context) error {
	scheduler, found, err := loadScheduler(c)
	if !found {
		return err
	}
	var payload schedulerUpdatePayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	if payload.Config != "" {
		if _, err := app.ParseTaskOptions(payload.Config); err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_CONFIG", "Scheduler config must be a JSON object", err.Error())
		}
	}

	updates := make(map[string]interface{})
	if payload.Name != "" {
		updates["name"] = payload.Name
	}
	if payload.Interval > 0 {
		updates["interval"] = payload.Interval
		// Recalculate next run time
		updates["next_run_at"] = time.Now().Add(time.Duration(payload.Interval) * time.Second)
	}
	if payload.Status != "" {
		updates["status"] = payload.Status
	}
	if payload.Config != "" {
		updates["config"] = payload.Config
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}
	if len(updates) > 0 {
		if err := GetDB(c).Model(scheduler).Updates(updates).Error; err != nil {
			return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update scheduler", err.Error())
		}
	}
	if err := GetDB(c).First(scheduler, scheduler.ID).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to reload scheduler", err.Error())
	}
	return ok(c, scheduler)
}
