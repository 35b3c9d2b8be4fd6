package handlers

import (
	"github.com/fatflowers/knightly/internal/app/service/payment"
	"github.com/fatflowers/knightly/internal/app/service/quota"
	"github.com/fatflowers/knightly/internal/app/service/scheduler"
	"github.com/fatflowers/knightly/internal/app/service/statistics"
	"github.com/fatflowers/knightly/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespSubscriptionStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    quota.SubscriptionStatus `json:"data"`
}

type RespGameQuota struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    quota.GameQuotaResult    `json:"data"`
}

type RespJobs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []scheduler.JobStatus    `json:"data"`
}

type RespJobStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    scheduler.JobStatus      `json:"data"`
}

// RespListPayments wraps ScanPaymentsResponse in the standard envelope.
type RespListPayments struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    payment.ScanPaymentsResponse `json:"data"`
}

// RespStatistic wraps StatisticResponse in the standard envelope.
type RespStatistic struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    statistics.StatisticResponse `json:"data"`
}
