package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/knightly/internal/app/service/payment"
	"github.com/fatflowers/knightly/internal/app/service/scheduler"
	"github.com/fatflowers/knightly/internal/app/service/statistics"
	"github.com/fatflowers/knightly/pkg/response"
)

// JobRunner lists registered jobs and runs one on demand.
type JobRunner interface {
	Jobs() []scheduler.JobStatus
	Status(name string) (scheduler.JobStatus, error)
	RunJob(ctx context.Context, name string) error
}

type StatisticsService interface {
	GetDailyStatistic(ctx context.Context, request *statistics.StatisticRequest) (*statistics.StatisticResponse, error)
}

// @Summary      List jobs (Admin)
// @Description  Registered maintenance jobs with their schedule and last run.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespJobs
// @Router       /api/v1/admin/jobs [get]
func ApiListJobs(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(jobs.Jobs()))
	}
}

// @Summary      Run job (Admin)
// @Description  Runs one job now and waits for it. The job's error, if any, is returned as the message data.
// @Tags         Admin
// @Produce      json
// @Param        name path string true "Job name"
// @Success      200  {object}  handlers.RespJobStatus
// @Router       /api/v1/admin/jobs/{name}/run [post]
func ApiRunJob(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		err := jobs.RunJob(c.Request.Context(), name)
		switch {
		case errors.Is(err, scheduler.ErrUnknownJob):
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
			return
		case errors.Is(err, scheduler.ErrJobRunning):
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		case err != nil:
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		st, _ := jobs.Status(name)
		c.JSON(http.StatusOK, response.OKT(st))
	}
}

// @Summary      List payments (Admin)
// @Description  Retrieves a paginated and filterable list of one-time payments.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body payment.ScanPaymentsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListPayments
// @Router       /api/v1/admin/payments/list [post]
func ApiListPayments(mgr payment.PaymentManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.ScanPaymentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := mgr.ScanPayments(c.Request.Context(), &req)
		if errors.Is(err, payment.ErrInvalidRequest) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get subscription statistics (Admin)
// @Description  Daily premium counts, new subscriptions, renewals and revenue.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.StatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/statistics [post]
func ApiGetStatistic(svc StatisticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetDailyStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, jobs JobRunner, payments payment.PaymentManager, stats StatisticsService) {
	r.GET("/jobs", ApiListJobs(jobs))
	r.POST("/jobs/:name/run", ApiRunJob(jobs))
	r.POST("/payments/list", ApiListPayments(payments))
	r.POST("/statistics", ApiGetStatistic(stats))
}
